package apartment

import (
	"time"

	"github.com/openopc/go-opcda/binding"
	"github.com/openopc/go-opcda/variant"
)

// ItemUpdate is one decoded item record of a data-change or read-complete
// batch. The value/quality/timestamp triple always travels together.
type ItemUpdate struct {
	ClientHandle uint32
	Value        variant.Value
	Quality      variant.Quality
	Timestamp    time.Time
	Err          error
}

// ItemResult is one decoded item record of a write-complete batch.
type ItemResult struct {
	ClientHandle uint32
	Err          error
}

// Event is a decoded callback notification leaving the apartment thread.
type Event interface {
	// GroupHandle returns the server group handle the event is addressed to.
	GroupHandle() uint32
}

// DataChangeEvent carries a subscription update batch.
type DataChangeEvent struct {
	TransactionID uint32
	Group         uint32
	MasterQuality binding.HRESULT
	MasterError   binding.HRESULT
	Updates       []ItemUpdate
}

func (e *DataChangeEvent) GroupHandle() uint32 { return e.Group }

// ReadCompleteEvent carries the completion of an asynchronous read.
type ReadCompleteEvent struct {
	TransactionID uint32
	Group         uint32
	MasterQuality binding.HRESULT
	MasterError   binding.HRESULT
	Updates       []ItemUpdate
}

func (e *ReadCompleteEvent) GroupHandle() uint32 { return e.Group }

// WriteCompleteEvent carries the completion of an asynchronous write.
type WriteCompleteEvent struct {
	TransactionID uint32
	Group         uint32
	MasterError   binding.HRESULT
	Results       []ItemResult
}

func (e *WriteCompleteEvent) GroupHandle() uint32 { return e.Group }

// CancelCompleteEvent confirms the cancellation of an asynchronous request.
type CancelCompleteEvent struct {
	TransactionID uint32
	Group         uint32
}

func (e *CancelCompleteEvent) GroupHandle() uint32 { return e.Group }

// Callback returns the callback endpoint to register with a group's Advise
// call. The endpoint decodes every batch on the apartment thread, copying
// all payload data out of native memory, and publishes the decoded event to
// the bounded event channel.
func (a *Apartment) Callback() binding.DataCallback {
	return &callbackRelay{a: a}
}

type callbackRelay struct {
	a *Apartment
}

var _ binding.DataCallback = (*callbackRelay)(nil)

func (r *callbackRelay) OnDataChange(transactionID, groupHandle uint32, masterQuality, masterError binding.HRESULT, records []binding.CallbackRecord) {
	r.a.publish(&DataChangeEvent{
		TransactionID: transactionID,
		Group:         groupHandle,
		MasterQuality: masterQuality,
		MasterError:   masterError,
		Updates:       decodeRecords(records),
	})
}

func (r *callbackRelay) OnReadComplete(transactionID, groupHandle uint32, masterQuality, masterError binding.HRESULT, records []binding.CallbackRecord) {
	r.a.publish(&ReadCompleteEvent{
		TransactionID: transactionID,
		Group:         groupHandle,
		MasterQuality: masterQuality,
		MasterError:   masterError,
		Updates:       decodeRecords(records),
	})
}

func (r *callbackRelay) OnWriteComplete(transactionID, groupHandle uint32, masterError binding.HRESULT, clientHandles []uint32, errors []binding.HRESULT) {
	results := make([]ItemResult, 0, len(clientHandles))
	for i, handle := range clientHandles {
		res := ItemResult{ClientHandle: handle}
		if i < len(errors) {
			res.Err = errors[i].Err()
		}
		results = append(results, res)
	}

	r.a.publish(&WriteCompleteEvent{
		TransactionID: transactionID,
		Group:         groupHandle,
		MasterError:   masterError,
		Results:       results,
	})
}

func (r *callbackRelay) OnCancelComplete(transactionID, groupHandle uint32) {
	r.a.publish(&CancelCompleteEvent{
		TransactionID: transactionID,
		Group:         groupHandle,
	})
}

// decodeRecords converts a native record batch into typed updates. Decode
// failures are per item and never fail the batch.
func decodeRecords(records []binding.CallbackRecord) []ItemUpdate {
	updates := make([]ItemUpdate, 0, len(records))
	for _, rec := range records {
		update := ItemUpdate{
			ClientHandle: rec.ClientHandle,
			Quality:      variant.Quality(rec.Quality),
			Timestamp:    variant.TimeFromFiletime(rec.Timestamp),
		}

		if err := rec.Error.Err(); err != nil {
			update.Err = err
			update.Value = variant.NewEmptyValue()
		} else if val, err := variant.Decode(rec.Value); err != nil {
			update.Err = err
			update.Value = variant.NewEmptyValue()
		} else {
			update.Value = val
		}

		updates = append(updates, update)
	}

	return updates
}

// publish hands an event to the bounded channel without ever blocking the
// callback thread. When the channel is full the oldest event is dropped.
func (a *Apartment) publish(ev Event) {
	for {
		select {
		case a.events <- ev:
			return
		default:
		}

		select {
		case <-a.events:
			a.dropped.Inc()
		default:
		}
	}
}
