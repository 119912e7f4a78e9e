package zipkit

import "time"

// DOSTime is a wall-clock timestamp packed into the MS-DOS 16+16 bit form
// used by the LFH and CDFH date/time fields: 2-second resolution, no
// timezone. See spec §4.3.
type DOSTime uint32

// NewDOSTime packs t into the MS-DOS date/time form, truncating to 2-second
// resolution and clamping the year to the representable 1980-2107 range.
func NewDOSTime(t time.Time) DOSTime {
	year := t.Year()
	if year < 1980 {
		year = 1980
	}
	if year > 2107 {
		year = 2107
	}
	date := uint16(t.Day()&0x1f) | uint16(t.Month())<<5 | uint16(year-1980)<<9
	clock := uint16(t.Second()/2&0x1f) | uint16(t.Minute())<<5 | uint16(t.Hour())<<11
	return DOSTime(uint32(date)<<16 | uint32(clock))
}

// DatePart and TimePart return the raw packed halves, in the layout the
// LFH/CDFH records store them (time first, then date).
func (d DOSTime) DatePart() uint16 { return uint16(d >> 16) }
func (d DOSTime) TimePart() uint16 { return uint16(d) }

// DOSTimeFromParts reconstructs a DOSTime from the separately-stored date
// and time halves read off the wire.
func DOSTimeFromParts(date, clock uint16) DOSTime {
	return DOSTime(uint32(date)<<16 | uint32(clock))
}

// Time decodes the packed value back to a time.Time in UTC, clamping any
// out-of-range field instead of erroring (spec §4.3).
func (d DOSTime) Time() time.Time {
	date := d.DatePart()
	clock := d.TimePart()

	year := 1980 + int(date>>9)
	month := time.Month(clamp(int((date>>5)&0xf), 1, 12))
	day := clamp(int(date&0x1f), 1, 31)

	hour := clamp(int(clock>>11), 0, 23)
	minute := clamp(int((clock>>5)&0x3f), 0, 59)
	second := clamp(int(clock&0x1f)*2, 0, 59)

	return time.Date(year, month, day, hour, minute, second, 0, time.UTC)
}

// Equal reports whether d and o round-trip to the same packed 32-bit form.
func (d DOSTime) Equal(o DOSTime) bool { return d == o }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
