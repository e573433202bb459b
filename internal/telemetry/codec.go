package telemetry

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so identical values always
// produce identical frames.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("telemetry: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("telemetry: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// wireRecord carries DiscoveredAt as unix seconds plus nanoseconds, which
// covers every time.Time including the zero value.
type wireRecord struct {
	ID      string `cbor:"1,keyasint"`
	Address string `cbor:"2,keyasint,omitempty"`
	Name    string `cbor:"3,keyasint,omitempty"`
	RSSI    *int16 `cbor:"4,keyasint,omitempty"`
	Sec     int64  `cbor:"5,keyasint"`
	Nsec    int32  `cbor:"6,keyasint,omitempty"`
}

// MarshalCBOR implements cbor.Marshaler.
func (r DeviceRecord) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(wireRecord{
		ID:      r.ID,
		Address: r.Address,
		Name:    r.Name,
		RSSI:    r.RSSI,
		Sec:     r.DiscoveredAt.Unix(),
		Nsec:    int32(r.DiscoveredAt.Nanosecond()),
	})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (r *DeviceRecord) UnmarshalCBOR(data []byte) error {
	var w wireRecord
	if err := decMode.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Nsec < 0 || w.Nsec >= int32(time.Second) {
		return fmt.Errorf("telemetry: nanoseconds %d out of range", w.Nsec)
	}
	*r = DeviceRecord{
		ID:           w.ID,
		Address:      w.Address,
		Name:         w.Name,
		RSSI:         w.RSSI,
		DiscoveredAt: time.Unix(w.Sec, int64(w.Nsec)).UTC(),
	}
	return nil
}

type wireReading struct {
	DeviceID   string  `cbor:"1,keyasint"`
	SensorType string  `cbor:"2,keyasint"`
	Value      float64 `cbor:"3,keyasint"`
	Timestamp  int64   `cbor:"4,keyasint"`
}

// MarshalCBOR implements cbor.Marshaler.
func (r Reading) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(wireReading(r))
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (r *Reading) UnmarshalCBOR(data []byte) error {
	var w wireReading
	if err := decMode.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Reading(w)
	return nil
}
