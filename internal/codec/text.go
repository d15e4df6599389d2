package codec

import (
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"hwsampler/internal/domain"
)

// textEncoder writes one human readable line per snapshot, e.g.
//
//	cpu "Ryzen 7" 12.5% 3.4 GHz 16 cores | ram 5.2 GiB/31 GiB | swap 0 B/2.0 GiB | gpu0 "RX 6800" 40% dec 0% mem 25% 52C
type textEncoder struct{}

func (textEncoder) Encode(s domain.Snapshot) ([]byte, error) {
	var b strings.Builder

	if s.Timestamp != 0 {
		b.WriteString(time.UnixMilli(s.Timestamp).UTC().Format(time.RFC3339))
		b.WriteByte(' ')
	}

	b.WriteString("cpu ")
	b.WriteString(strconv.Quote(s.CPU.Name))
	b.WriteByte(' ')
	b.WriteString(percent(s.CPU.Usage))
	b.WriteByte(' ')
	b.WriteString(ghz(s.CPU.Frequency))
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(len(s.CPU.Cores)))
	b.WriteString(" cores")

	b.WriteString(" | ram ")
	b.WriteString(humanize.IBytes(s.Memory.RAMUsed))
	b.WriteByte('/')
	b.WriteString(humanize.IBytes(s.Memory.RAMTotal))

	b.WriteString(" | swap ")
	b.WriteString(humanize.IBytes(s.Memory.SwapUsed))
	b.WriteByte('/')
	b.WriteString(humanize.IBytes(s.Memory.SwapTotal))

	for i, g := range s.GPUs {
		b.WriteString(" | gpu")
		b.WriteString(strconv.Itoa(i))
		b.WriteByte(' ')
		b.WriteString(strconv.Quote(g.Name))
		b.WriteByte(' ')
		b.WriteString(percent(g.Usage))
		b.WriteString(" dec ")
		b.WriteString(percent(g.Decoder))
		b.WriteString(" mem ")
		b.WriteString(percent(g.Memory * 100))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(uint64(g.Temperature), 10))
		b.WriteByte('C')
	}

	b.WriteByte('\n')

	return []byte(b.String()), nil
}

func (textEncoder) Binary() bool { return false }

func percent(v float64) string {
	return humanize.FtoaWithDigits(v, 1) + "%"
}

func ghz(mhz uint64) string {
	return humanize.FtoaWithDigits(float64(mhz)/1000, 1) + " GHz"
}
