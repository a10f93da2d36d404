package binding

import "fmt"

// HRESULT is the 32-bit result code used by every method of the legacy
// interface set. Negative values indicate failure.
type HRESULT int32

// Common result codes used by the OPC DA interfaces.
const (
	S_OK    HRESULT = 0
	S_FALSE HRESULT = 1

	E_FAIL        HRESULT = -0x7FFFBFFB // 0x80004005
	E_INVALIDARG  HRESULT = -0x7FF8FFA9 // 0x80070057
	E_OUTOFMEMORY HRESULT = -0x7FF8FFF2 // 0x8007000E

	OPC_E_INVALIDHANDLE   HRESULT = -0x3FFBFFFF // 0xC0040001
	OPC_E_BADTYPE         HRESULT = -0x3FFBFFFC // 0xC0040004
	OPC_E_UNKNOWNITEMID   HRESULT = -0x3FFBFFF9 // 0xC0040007
	OPC_E_INVALIDITEMID   HRESULT = -0x3FFBFFF8 // 0xC0040008
	OPC_E_INVALIDFILTER   HRESULT = -0x3FFBFFF7 // 0xC0040009
	OPC_E_RANGE           HRESULT = -0x3FFBFFF5 // 0xC004000B
	OPC_E_DUPLICATENAME   HRESULT = -0x3FFBFFF4 // 0xC004000C
	OPC_S_UNSUPPORTEDRATE HRESULT = 0x0004000D
)

// IsOK reports whether hr indicates success. Both S_OK and informational
// success codes such as OPC_S_UNSUPPORTEDRATE satisfy IsOK.
func (hr HRESULT) IsOK() bool {
	return hr >= 0
}

// Err returns nil for success codes, or an error wrapping the code otherwise.
func (hr HRESULT) Err() error {
	if hr.IsOK() {
		return nil
	}
	return &ResultError{Code: hr}
}

// ResultError wraps a failing HRESULT as a Go error.
type ResultError struct {
	Code HRESULT
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("hresult 0x%08X", uint32(e.Code))
}

// Is matches two ResultError values by code, so errors.Is works against a
// sentinel built with HRESULT.Err.
func (e *ResultError) Is(target error) bool {
	re, ok := target.(*ResultError)
	return ok && re.Code == e.Code
}

// ResultCode extracts the HRESULT from err if it wraps a ResultError.
// It returns S_OK for nil and E_FAIL for foreign errors.
func ResultCode(err error) HRESULT {
	if err == nil {
		return S_OK
	}
	if re, ok := err.(*ResultError); ok {
		return re.Code
	}
	return E_FAIL
}
