package binding

// DataSource selects where a read is served from.
type DataSource uint16

const (
	// SourceCache reads the last value held in the server cache.
	SourceCache DataSource = 1
	// SourceDevice forces a read from the underlying device.
	SourceDevice DataSource = 2
)

// ServerState is the running state reported by the server status call.
type ServerState uint32

const (
	StateRunning ServerState = iota + 1
	StateFailed
	StateNoConfig
	StateSuspended
	StateTest
	StateCommFault
)

// String returns string representation of the server state.
func (s ServerState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateNoConfig:
		return "no-config"
	case StateSuspended:
		return "suspended"
	case StateTest:
		return "test"
	case StateCommFault:
		return "comm-fault"
	default:
		return "unknown"
	}
}

// GroupDef carries the parameters of an AddGroup call.
type GroupDef struct {
	Name string
	// Active requests the group be created in the active state.
	Active bool
	// UpdateRate is the requested update rate in milliseconds.
	UpdateRate uint32
	// ClientHandle is the caller-chosen group handle echoed in callbacks.
	ClientHandle uint32
	// TimeBias is the group time zone bias in minutes.
	TimeBias int32
	// PercentDeadband is the minimum percent change required to report an
	// update for analog items.
	PercentDeadband float32
	LocaleID        uint32
}

// GroupInfo is the result of a successful AddGroup call.
type GroupInfo struct {
	ServerHandle uint32
	// RevisedUpdateRate is the update rate the server granted, in
	// milliseconds. It may differ from the requested rate.
	RevisedUpdateRate uint32
	Group             Group
}

// GroupState is the full group state returned by GetState.
type GroupState struct {
	Name              string
	Active            bool
	UpdateRate        uint32
	RevisedUpdateRate uint32
	TimeBias          int32
	PercentDeadband   float32
	LocaleID          uint32
	ClientHandle      uint32
	ServerHandle      uint32
}

// GroupStateUpdate carries the optional fields of a SetState call.
// Nil fields are left unchanged.
type GroupStateUpdate struct {
	UpdateRate      *uint32
	Active          *bool
	TimeBias        *int32
	PercentDeadband *float32
	ClientHandle    *uint32
}

// ItemDef carries the parameters of one item in an AddItems or
// ValidateItems call.
type ItemDef struct {
	AccessPath string
	ItemID     string
	Active     bool
	// ClientHandle is the caller-chosen item handle echoed in callbacks
	// and read results.
	ClientHandle uint32
	// RequestedType is the canonical type the caller wants values coerced
	// to; VT_EMPTY requests the server's canonical type.
	RequestedType VarType
}

// ItemResult is the per-item result of AddItems and ValidateItems.
type ItemResult struct {
	ServerHandle  uint32
	CanonicalType VarType
	AccessRights  uint32
}

// ItemState is the per-item payload of a synchronous read: the
// value/quality/timestamp triple plus the echoed client handle.
type ItemState struct {
	ClientHandle uint32
	Value        Variant
	Quality      uint16
	Timestamp    Filetime
}

// ServerStatus mirrors the native server status structure.
type ServerStatus struct {
	StartTime      Filetime
	CurrentTime    Filetime
	LastUpdateTime Filetime
	State          ServerState
	GroupCount     uint32
	Bandwidth      uint32
	MajorVersion   uint16
	MinorVersion   uint16
	BuildNumber    uint16
	VendorInfo     string
}

// CallbackRecord is one item record inside a data-change or read-complete
// callback batch.
type CallbackRecord struct {
	ClientHandle uint32
	Value        Variant
	Quality      uint16
	Timestamp    Filetime
	Error        HRESULT
}

// DataCallback is the callback interface this runtime implements and
// registers with a group via Advise. The server invokes it on the apartment
// thread; implementations must copy out all payload data before returning.
type DataCallback interface {
	OnDataChange(transactionID, groupHandle uint32, masterQuality, masterError HRESULT, records []CallbackRecord)
	OnReadComplete(transactionID, groupHandle uint32, masterQuality, masterError HRESULT, records []CallbackRecord)
	OnWriteComplete(transactionID, groupHandle uint32, masterError HRESULT, clientHandles []uint32, errors []HRESULT)
	OnCancelComplete(transactionID, groupHandle uint32)
}

// Connector creates server connections. The OS component runtime provides the
// production implementation; tests provide fakes.
type Connector interface {
	// Connect activates the server identified by progID and returns its
	// primary interface.
	Connect(progID string) (Server, error)
}

// Server is the contract of the legacy server interface set
// (IOPCServer, IOPCBrowseServerAddressSpace, status handling).
type Server interface {
	// AddGroup creates a subscription group.
	AddGroup(def GroupDef) (GroupInfo, error)
	// RemoveGroup releases the group identified by serverHandle. When force
	// is true the group is removed even with outstanding references.
	RemoveGroup(serverHandle uint32, force bool) error
	// Status returns the current server status.
	Status() (ServerStatus, error)
	// CreateBrowser returns a cursor over item identifiers whose IDs match
	// filter. An empty filter matches everything.
	CreateBrowser(filter string) (Browser, error)
	// Release drops the server reference. The object must not be used
	// afterwards.
	Release() error
}

// Browser enumerates item identifiers of the server address space, in the
// manner of the native string enumerator.
type Browser interface {
	// Next returns up to max item identifiers, advancing the cursor. It
	// returns an empty slice when the enumeration is exhausted.
	Next(max int) ([]string, error)
	// Reset rewinds the cursor to the start of the enumeration.
	Reset() error
	// Release drops the enumerator reference.
	Release() error
}

// Group is the contract of the legacy group interface set
// (IOPCItemMgt, IOPCGroupStateMgt, IOPCSyncIO, IOPCAsyncIO2 and the
// data-callback connection point).
//
// Batched calls report partial success: the returned HRESULT slice has one
// entry per input, and the method-level error is non-nil only when the call
// failed as a whole and produced no per-item results.
type Group interface {
	AddItems(defs []ItemDef) ([]ItemResult, []HRESULT, error)
	ValidateItems(defs []ItemDef) ([]ItemResult, []HRESULT, error)
	RemoveItems(serverHandles []uint32) ([]HRESULT, error)
	SetActiveState(serverHandles []uint32, active bool) ([]HRESULT, error)

	GetState() (GroupState, error)
	SetState(update GroupStateUpdate) (GroupState, error)

	SyncRead(source DataSource, serverHandles []uint32) ([]ItemState, []HRESULT, error)
	SyncWrite(serverHandles []uint32, values []Variant) ([]HRESULT, error)

	// AsyncRead schedules a device read; completion arrives through the
	// advised callback with the given transactionID. The returned cancelID
	// can be passed to Cancel.
	AsyncRead(serverHandles []uint32, transactionID uint32) (uint32, []HRESULT, error)
	AsyncWrite(serverHandles []uint32, values []Variant, transactionID uint32) (uint32, []HRESULT, error)
	Cancel(cancelID uint32) error

	// Advise registers cb for change notifications and returns the
	// connection cookie for Unadvise.
	Advise(cb DataCallback) (uint32, error)
	Unadvise(connection uint32) error

	// Release drops the group reference. The object must not be used
	// afterwards.
	Release() error
}
