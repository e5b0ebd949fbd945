package wasmdebug

import (
	"debug/dwarf"
	"fmt"
)

// GetSubprogram returns the name and the start address of the subprogram covering pc, which is an offset in the
// .text section of a compiled object. Returns false if no such subprogram is found.
func GetSubprogram(d *dwarf.Data, pc uint64) (name string, lowPC uint64, ok bool) {
	if d == nil {
		return "", 0, false
	}

	r := d.Reader()
	for {
		entry, err := r.Next()
		if err != nil || entry == nil {
			return "", 0, false
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		low, okLow := entry.Val(dwarf.AttrLowpc).(uint64)
		if !okLow {
			continue
		}
		var high uint64
		switch hv := entry.Val(dwarf.AttrHighpc).(type) {
		case uint64:
			high = hv
		case int64:
			// DWARF 4 encodes high_pc as a length when its class is constant.
			high = low + uint64(hv)
		default:
			continue
		}
		if low <= pc && pc < high {
			n, _ := entry.Val(dwarf.AttrName).(string)
			return n, low, true
		}
	}
}

// GetSourceInfo returns the subprogram information for the given pc formatted like a stack trace source line.
// Returns empty string if the info is not found.
func GetSourceInfo(d *dwarf.Data, pc uint64) string {
	name, low, ok := GetSubprogram(d, pc)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%#x: %s+%#x", pc, name, pc-low)
}
