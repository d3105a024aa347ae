package j1939

import (
	"encoding/binary"
	"fmt"
	"golang.org/x/exp/constraints"
)

// Industry groups (3 bits) of NAME.
const (
	IndustryGroupGlobal       = uint8(0)
	IndustryGroupOnHighway    = uint8(1)
	IndustryGroupAgricultural = uint8(2)
	IndustryGroupConstruction = uint8(3)
	IndustryGroupMarine       = uint8(4)
	IndustryGroupIndustrial   = uint8(5)
)

// Name is 64-bit NAME that identifies node on the bus and is used to arbitrate address claims. Node with numerically
// lower NAME value has higher priority.
//
// Bit layout of NAME value (J1939-81):
//   - bits 0-20 identity number
//   - bits 21-31 manufacturer code
//   - bits 32-34 ECU instance
//   - bits 35-39 function instance
//   - bits 40-47 function
//   - bit 48 reserved
//   - bits 49-55 vehicle system
//   - bits 56-59 vehicle system instance
//   - bits 60-62 industry group
//   - bit 63 arbitrary address capable
//
// On the wire NAME value is sent as 8 bytes in little-endian order.
type Name struct {
	// ArbitraryAddressCapable indicates that node is able to pick another address (from range 128-247) when it
	// loses address claim contention.
	ArbitraryAddressCapable bool `json:"arbitrary_address_capable"`

	IndustryGroup         uint8 `json:"industry_group"`          // 3 bits
	VehicleSystemInstance uint8 `json:"vehicle_system_instance"` // 4 bits
	VehicleSystem         uint8 `json:"vehicle_system"`          // 7 bits
	Reserved              uint8 `json:"reserved"`                // 1 bit
	Function              uint8 `json:"function"`                // 8 bits
	FunctionInstance      uint8 `json:"function_instance"`       // 5 bits
	ECUInstance           uint8 `json:"ecu_instance"`            // 3 bits

	ManufacturerCode uint16 `json:"manufacturer_code"` // 11 bits
	IdentityNumber   uint32 `json:"identity_number"`   // 21 bits
}

func fits[T constraints.Unsigned](v T, bitLength uint) bool {
	return uint64(v)>>bitLength == 0
}

func field[T constraints.Unsigned](v uint64, offset uint, bitLength uint) T {
	return T((v >> offset) & (1<<bitLength - 1))
}

// Validate checks that all fields fit into their bit lengths.
func (n Name) Validate() error {
	checks := []struct {
		name string
		ok   bool
	}{
		{name: "industry group", ok: fits(n.IndustryGroup, 3)},
		{name: "vehicle system instance", ok: fits(n.VehicleSystemInstance, 4)},
		{name: "vehicle system", ok: fits(n.VehicleSystem, 7)},
		{name: "reserved", ok: fits(n.Reserved, 1)},
		{name: "function instance", ok: fits(n.FunctionInstance, 5)},
		{name: "ECU instance", ok: fits(n.ECUInstance, 3)},
		{name: "manufacturer code", ok: fits(n.ManufacturerCode, 11)},
		{name: "identity number", ok: fits(n.IdentityNumber, 21)},
	}
	for _, c := range checks {
		if !c.ok {
			return fmt.Errorf("NAME %v is out of range: %w", c.name, ErrInvalidPayload)
		}
	}
	return nil
}

// Uint64 returns NAME as unsigned 64-bit value that is used for address claim arbitration.
func (n Name) Uint64() uint64 {
	v := uint64(n.IdentityNumber & 0x1fffff)
	v |= uint64(n.ManufacturerCode&0x7ff) << 21
	v |= uint64(n.ECUInstance&0x7) << 32
	v |= uint64(n.FunctionInstance&0x1f) << 35
	v |= uint64(n.Function) << 40
	v |= uint64(n.Reserved&0x1) << 48
	v |= uint64(n.VehicleSystem&0x7f) << 49
	v |= uint64(n.VehicleSystemInstance&0xf) << 56
	v |= uint64(n.IndustryGroup&0x7) << 60
	if n.ArbitraryAddressCapable {
		v |= 1 << 63
	}
	return v
}

// Bytes encodes NAME into its 8 byte wire form.
func (n Name) Bytes() [8]byte {
	b := [8]byte{}
	binary.LittleEndian.PutUint64(b[:], n.Uint64())
	return b
}

// NameFromUint64 decodes NAME from its 64-bit value.
func NameFromUint64(v uint64) Name {
	return Name{
		IdentityNumber:          field[uint32](v, 0, 21),
		ManufacturerCode:        field[uint16](v, 21, 11),
		ECUInstance:             field[uint8](v, 32, 3),
		FunctionInstance:        field[uint8](v, 35, 5),
		Function:                field[uint8](v, 40, 8),
		Reserved:                field[uint8](v, 48, 1),
		VehicleSystem:           field[uint8](v, 49, 7),
		VehicleSystemInstance:   field[uint8](v, 56, 4),
		IndustryGroup:           field[uint8](v, 60, 3),
		ArbitraryAddressCapable: v>>63 == 1,
	}
}

// ParseName decodes NAME from its 8 byte wire form.
func ParseName(b []byte) (Name, error) {
	if len(b) != 8 {
		return Name{}, fmt.Errorf("NAME must be 8 bytes, got: %v: %w", len(b), ErrInvalidPayload)
	}
	return NameFromUint64(binary.LittleEndian.Uint64(b)), nil
}
