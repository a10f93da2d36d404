package variant

import "fmt"

// Quality is the protocol-defined confidence code accompanying every
// reported value. The low byte is laid out QQSSSSLL (quality, sub-status,
// limit); the high byte is vendor specific.
type Quality uint16

// Quality status values of the QQ bits.
const (
	QualityBad       Quality = 0x00
	QualityUncertain Quality = 0x40
	QualityGood      Quality = 0xC0

	qualityStatusMask Quality = 0xC0
)

// Status returns the quality status bits, one of QualityGood, QualityBad or
// QualityUncertain.
func (q Quality) Status() Quality {
	return q & qualityStatusMask
}

// IsGood reports whether the status bits indicate good quality.
func (q Quality) IsGood() bool { return q.Status() == QualityGood }

// IsBad reports whether the status bits indicate bad quality.
func (q Quality) IsBad() bool { return q.Status() == QualityBad }

// IsUncertain reports whether the status bits indicate uncertain quality.
func (q Quality) IsUncertain() bool { return q.Status() == QualityUncertain }

// SubStatus returns the four sub-status bits qualifying the status.
func (q Quality) SubStatus() uint8 {
	return uint8((q >> 2) & 0x0F)
}

// Limit returns the two limit bits (not limited, low, high, constant).
func (q Quality) Limit() uint8 {
	return uint8(q & 0x03)
}

// VendorBits returns the vendor-specific high byte.
func (q Quality) VendorBits() uint8 {
	return uint8(q >> 8)
}

// String returns string representation of the quality status.
func (q Quality) String() string {
	var status string
	switch q.Status() {
	case QualityGood:
		status = "good"
	case QualityBad:
		status = "bad"
	case QualityUncertain:
		status = "uncertain"
	default:
		status = "invalid"
	}
	return fmt.Sprintf("%s (0x%04X)", status, uint16(q))
}
