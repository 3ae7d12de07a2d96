package dataset

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

var mebibyte = decimal.NewFromInt(1 << 20)

type Summary struct {
	Rows         int
	AudioBytes   int64
	SamplingRate int
}

// Summarize stats every referenced audio file. It reads no audio content.
func Summarize(ds *Dataset) (Summary, error) {
	s := Summary{Rows: ds.Len(), SamplingRate: ds.SamplingRate()}
	for _, r := range ds.rows {
		fi, err := os.Stat(r.Audio.Path)
		if err != nil {
			return s, fmt.Errorf("summarizing dataset: %w", err)
		}
		s.AudioBytes += fi.Size()
	}
	return s, nil
}

func (s Summary) SizeMB() decimal.Decimal {
	return MB(s.AudioBytes)
}

// RateKHz is the declared sampling rate in kHz, e.g. 22.05 for 22050.
func (s Summary) RateKHz() decimal.Decimal {
	return decimal.New(int64(s.SamplingRate), -3)
}

func (s Summary) String() string {
	return fmt.Sprintf("%d examples, %s MB of audio, declared %s kHz",
		s.Rows, s.SizeMB().StringFixed(2), s.RateKHz())
}

func MB(n int64) decimal.Decimal {
	return decimal.NewFromInt(n).Div(mebibyte).Round(2)
}
