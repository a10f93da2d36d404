package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openopc/go-opcda/binding"
	"github.com/openopc/go-opcda/variant"
)

type testSetup struct {
	connector *fakeConnector
	server    *Server
	group     *Group
	fake      *fakeGroup
}

func newTestSetup(t *testing.T, cfg *Config) *testSetup {
	t.Helper()
	require := require.New(t)

	if cfg == nil {
		cfg = DefaultConfig()
	}

	connector := newFakeConnector()
	cli := New(connector, WithConfig(cfg), WithLogger(nopLogger{}))

	srv, err := cli.Connect(context.Background(), "Fake.Server.1")
	require.NoError(err)
	t.Cleanup(func() { srv.Close(context.Background()) }) //nolint:errcheck

	g, err := srv.AddGroup(context.Background(), GroupDef{
		Name:         "line1",
		ClientHandle: 1,
		Active:       true,
	})
	require.NoError(err)

	return &testSetup{
		connector: connector,
		server:    srv,
		group:     g,
		fake:      connector.servers["Fake.Server.1"].group(),
	}
}

func (ts *testSetup) fakeServer() *fakeServer {
	return ts.connector.servers["Fake.Server.1"]
}

func (ts *testSetup) addItem(t *testing.T, itemID string, clientHandle uint32) {
	t.Helper()

	results, err := ts.group.AddItems(context.Background(), []ItemDef{
		{ItemID: itemID, ClientHandle: clientHandle, Active: true},
	})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
}

func TestAddItemsPartialSuccess(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t, nil)

	results, err := ts.group.AddItems(context.Background(), []ItemDef{
		{ItemID: "plc.temp", ClientHandle: 10, Active: true},
		{ItemID: "bad.missing", ClientHandle: 11, Active: true},
		{ItemID: "plc.pressure", ClientHandle: 12, Active: true},
		{ItemID: "plc.dup", ClientHandle: 10, Active: true}, // duplicate within batch
	})
	require.NoError(err)
	require.Len(results, 4)

	require.NoError(results[0].Err)
	require.NotZero(results[0].ServerHandle)
	require.Equal(binding.VT_R8, results[0].CanonicalType)

	require.ErrorIs(results[1].Err, binding.OPC_E_UNKNOWNITEMID.Err())
	require.NoError(results[2].Err)
	require.ErrorIs(results[3].Err, ErrDuplicateHandle)
}

func TestAddItemsDuplicateHandleAcrossCalls(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t, nil)

	ts.addItem(t, "plc.temp", 10)

	results, err := ts.group.AddItems(context.Background(), []ItemDef{
		{ItemID: "plc.other", ClientHandle: 10, Active: true},
	})
	require.NoError(err)
	require.ErrorIs(results[0].Err, ErrDuplicateHandle)

	// the table still holds exactly one entry for the handle: a device read
	// resolves it to the original item
	ts.fakeServer().setValue("plc.temp", float64Variant(21.5))
	ts.fakeServer().setValue("plc.other", float64Variant(99.9))

	reads, err := ts.group.Read(context.Background(), []uint32{10}, binding.SourceDevice)
	require.NoError(err)
	require.NoError(reads[0].Err)
	require.Equal(variant.NewFloatValue(21.5), reads[0].Value)
}

func TestValidateItemsDoesNotMutate(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t, nil)

	results, err := ts.group.ValidateItems(context.Background(), []ItemDef{
		{ItemID: "plc.temp", ClientHandle: 10},
		{ItemID: "bad.missing", ClientHandle: 11},
	})
	require.NoError(err)
	require.NoError(results[0].Err)
	require.Error(results[1].Err)

	// validation added nothing: reading the handle fails per item
	reads, err := ts.group.Read(context.Background(), []uint32{10}, binding.SourceCache)
	require.NoError(err)
	require.ErrorIs(reads[0].Err, ErrUnknownHandle)
}

func TestRemoveItems(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t, nil)

	ts.addItem(t, "plc.temp", 10)

	results, err := ts.group.RemoveItems(context.Background(), []uint32{10, 99})
	require.NoError(err)
	require.NoError(results[0])
	require.ErrorIs(results[1], ErrUnknownHandle)

	reads, err := ts.group.Read(context.Background(), []uint32{10}, binding.SourceCache)
	require.NoError(err)
	require.ErrorIs(reads[0].Err, ErrUnknownHandle)
}

func TestReadDeviceAndCache(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t, nil)

	ts.addItem(t, "plc.temp", 10)
	ts.fakeServer().setValue("plc.temp", float64Variant(42.5))

	// device read reaches the device and populates the table
	reads, err := ts.group.Read(context.Background(), []uint32{10}, binding.SourceDevice)
	require.NoError(err)
	require.NoError(reads[0].Err)
	require.Equal(variant.NewFloatValue(42.5), reads[0].Value)
	require.True(reads[0].Quality.IsGood())
	require.False(reads[0].Timestamp.IsZero())
	require.Equal(int32(1), ts.fake.deviceReads.Load())

	// the device value changes; a cache read still serves the last
	// observed triple without touching the device
	ts.fakeServer().setValue("plc.temp", float64Variant(100.0))

	reads, err = ts.group.Read(context.Background(), []uint32{10}, binding.SourceCache)
	require.NoError(err)
	require.Equal(variant.NewFloatValue(42.5), reads[0].Value)
	require.Equal(int32(1), ts.fake.deviceReads.Load())
}

func TestDeviceReadSingleFlight(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t, nil)

	ts.addItem(t, "plc.temp", 10)
	ts.fakeServer().setValue("plc.temp", float64Variant(7.25))
	ts.fake.deviceReadDelay = 200 * time.Millisecond

	var wg sync.WaitGroup
	values := make([]variant.Value, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reads, err := ts.group.Read(context.Background(), []uint32{10}, binding.SourceDevice)
			require.NoError(err)
			require.NoError(reads[0].Err)
			values[i] = reads[0].Value
		}(i)
	}
	wg.Wait()

	// both callers share one underlying device call and observe the same
	// resolved value
	require.Equal(int32(1), ts.fake.deviceReads.Load())
	require.Equal(values[0], values[1])
}

func TestWriteRoundTrip(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t, nil)

	ts.addItem(t, "plc.setpoint", 20)

	results, err := ts.group.Write(context.Background(),
		[]uint32{20, 99},
		[]variant.Value{variant.NewFloatValue(55.5), variant.NewFloatValue(1)})
	require.NoError(err)
	require.NoError(results[0])
	require.ErrorIs(results[1], ErrUnknownHandle)

	reads, err := ts.group.Read(context.Background(), []uint32{20}, binding.SourceDevice)
	require.NoError(err)
	require.NoError(reads[0].Err)
	require.Equal(variant.NewFloatValue(55.5), reads[0].Value)
}

func TestWriteUnsupportedValue(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t, nil)

	ts.addItem(t, "plc.setpoint", 20)

	// items canonicalize to VT_R8; a string cannot coerce
	results, err := ts.group.Write(context.Background(),
		[]uint32{20},
		[]variant.Value{variant.NewStringValue("not a number")})
	require.NoError(err)
	require.ErrorIs(results[0], variant.ErrUnsupportedType)

	_, err = ts.group.Write(context.Background(), []uint32{20}, nil)
	require.ErrorIs(err, ErrMismatchedArguments)
}

func TestGroupStateUpdate(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t, nil)

	state, err := ts.group.GetState(context.Background())
	require.NoError(err)
	require.Equal("line1", state.Name)
	require.True(state.Active)

	rate := uint32(250)
	state, err = ts.group.SetState(context.Background(), binding.GroupStateUpdate{UpdateRate: &rate})
	require.NoError(err)
	require.Equal(uint32(250), state.RevisedUpdateRate)
	require.Equal(uint32(250), ts.group.UpdateRate())

	require.NoError(ts.group.SetActive(context.Background(), false))
	state, err = ts.group.GetState(context.Background())
	require.NoError(err)
	require.False(state.Active)
}

func TestSubscribeLifecycle(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t, nil)

	sub, err := ts.group.Subscribe(context.Background())
	require.NoError(err)
	require.NotEqual("", sub.Token().String())

	_, err = ts.group.Subscribe(context.Background())
	require.ErrorIs(err, ErrAlreadySubscribed)

	other, err := ts.group.Subscribe(context.Background())
	require.ErrorIs(err, ErrAlreadySubscribed)
	require.Nil(other)

	err = ts.group.Unsubscribe(context.Background(), sub.Token())
	require.NoError(err)

	// the stream terminates on unsubscribe
	_, open := <-sub.Updates()
	require.False(open)

	// a later unsubscribe with the dead token fails
	err = ts.group.Unsubscribe(context.Background(), sub.Token())
	require.ErrorIs(err, ErrInvalidToken)

	// a fresh subscribe succeeds with a different token
	sub2, err := ts.group.Subscribe(context.Background())
	require.NoError(err)
	require.NotEqual(sub.Token(), sub2.Token())
}

func TestDataChangeDelivery(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t, nil)

	ts.addItem(t, "plc.temp", 10)

	sub, err := ts.group.Subscribe(context.Background())
	require.NoError(err)

	ts.fakeServer().setValue("plc.temp", float64Variant(3.5))
	err = ts.fake.fireDataChange(1, []binding.CallbackRecord{
		{
			ClientHandle: 10,
			Value:        float64Variant(3.5),
			Quality:      goodQuality,
			Timestamp:    variant.FiletimeFromTime(time.Now()),
		},
	})
	require.NoError(err)

	select {
	case u := <-sub.Updates():
		require.Equal(uint32(10), u.ClientHandle)
		require.Equal(variant.NewFloatValue(3.5), u.Value)
		require.True(u.Quality.IsGood())
		require.NoError(u.Err)
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}

	// the delivered triple became the cache value
	reads, err := ts.group.Read(context.Background(), []uint32{10}, binding.SourceCache)
	require.NoError(err)
	require.Equal(variant.NewFloatValue(3.5), reads[0].Value)
	require.Equal(int32(0), ts.fake.deviceReads.Load())
}

func TestAsyncReadCompletion(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t, nil)

	ts.addItem(t, "plc.temp", 10)
	ts.fakeServer().setValue("plc.temp", float64Variant(11.5))

	sub, err := ts.group.Subscribe(context.Background())
	require.NoError(err)

	cancelID, results, err := ts.group.AsyncRead(context.Background(), []uint32{10, 99})
	require.NoError(err)
	require.NotZero(cancelID)
	require.NoError(results[0])
	require.ErrorIs(results[1], ErrUnknownHandle)

	select {
	case u := <-sub.Updates():
		require.Equal(uint32(10), u.ClientHandle)
		require.Equal(variant.NewFloatValue(11.5), u.Value)
	case <-time.After(time.Second):
		t.Fatal("no read completion delivered")
	}
}

func TestAsyncWriteCompletion(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t, nil)

	ts.addItem(t, "plc.setpoint", 20)

	sub, err := ts.group.Subscribe(context.Background())
	require.NoError(err)

	cancelID, results, err := ts.group.AsyncWrite(context.Background(),
		[]uint32{20}, []variant.Value{variant.NewFloatValue(77.0)})
	require.NoError(err)
	require.NotZero(cancelID)
	require.NoError(results[0])

	select {
	case u := <-sub.Updates():
		require.Equal(uint32(20), u.ClientHandle)
		require.NoError(u.Err)
		require.True(u.Value.IsEmpty())
	case <-time.After(time.Second):
		t.Fatal("no write completion delivered")
	}

	reads, err := ts.group.Read(context.Background(), []uint32{20}, binding.SourceDevice)
	require.NoError(err)
	require.Equal(variant.NewFloatValue(77.0), reads[0].Value)
}

func TestCancelAsync(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t, nil)

	ts.addItem(t, "plc.temp", 10)
	_, err := ts.group.Subscribe(context.Background())
	require.NoError(err)

	cancelID, _, err := ts.group.AsyncRead(context.Background(), []uint32{10})
	require.NoError(err)
	require.NoError(ts.group.CancelAsync(context.Background(), cancelID))
}

func TestDispatcherDropsBatchForRemovedGroup(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t, nil)

	ts.addItem(t, "plc.temp", 10)
	_, err := ts.group.Subscribe(context.Background())
	require.NoError(err)

	// capture the callback endpoint before removal, as a server with an
	// in-flight notification would hold it
	cb := ts.fake.callbackRef()
	require.NotNil(cb)
	handle := ts.fake.handle

	require.NoError(ts.server.RemoveGroup(context.Background(), ts.group))

	cb.OnDataChange(9, handle, binding.S_OK, binding.S_OK, []binding.CallbackRecord{
		{ClientHandle: 10, Value: float64Variant(1.0), Quality: goodQuality},
	})

	require.Eventually(func() bool {
		return ts.server.DroppedBatches() == 1
	}, time.Second, time.Millisecond)
}

func TestRemovedGroupRejectsOperations(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t, nil)

	ts.addItem(t, "plc.temp", 10)
	require.NoError(ts.server.RemoveGroup(context.Background(), ts.group))
	require.True(ts.group.Removed())
	require.True(ts.fake.released.Load())

	_, err := ts.group.AddItems(context.Background(), []ItemDef{{ItemID: "x", ClientHandle: 1}})
	require.ErrorIs(err, ErrUnknownHandle)

	_, err = ts.group.Read(context.Background(), []uint32{10}, binding.SourceCache)
	require.ErrorIs(err, ErrUnknownHandle)

	_, err = ts.group.Write(context.Background(), []uint32{10}, []variant.Value{variant.NewFloatValue(1)})
	require.ErrorIs(err, ErrUnknownHandle)

	_, err = ts.group.Subscribe(context.Background())
	require.ErrorIs(err, ErrUnknownHandle)
}

func TestGroupRemovalUnadvisesSubscription(t *testing.T) {
	require := require.New(t)
	ts := newTestSetup(t, nil)

	sub, err := ts.group.Subscribe(context.Background())
	require.NoError(err)

	require.NoError(ts.server.RemoveGroup(context.Background(), ts.group))

	_, open := <-sub.Updates()
	require.False(open)
	require.Nil(ts.fake.callbackRef())
}
