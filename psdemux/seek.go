package psdemux

import (
	"io"

	"github.com/distlabs/streamcore/clock"
)

// scanLimit caps the forward scan for a stream's first SCR, matching
// the upstream demux's 4 MiB bound on how far it will search before
// giving up on finding timing information near the start of the file.
const scanLimit = 4 * 1024 * 1024

// maxSeekDepth bounds the bisection recursion in Seek.
const maxSeekDepth = 100

// blockSize is the scan window used while bisecting for a target SCR.
const blockSize = 32 * 1024

// Source is the random-access byte source Seek operates on in pull mode.
type Source interface {
	io.ReaderAt
	Len() int64
}

// EstablishRate scans src forward from offset 0 (capped at scanLimit)
// for the first pack header's SCR, and the whole file for the last
// one, deriving scr_rate_n/scr_rate_d. It must succeed
// before Seek will accept a time-based request: the derived rate
// denominator must be non-zero.
func (d *Demux) EstablishRate(src Source) error {
	length := src.Len()
	firstSCR, firstOff, err := scanForPack(src, 0, minI64(scanLimit, length), true)
	if err != nil {
		return err
	}
	lastSCR, lastOff, err := scanForPack(src, 0, length, false)
	if err != nil {
		return err
	}
	d.firstSCR = firstSCR
	d.firstSCROffset = uint64(firstOff)
	d.lastSCR = lastSCR
	d.lastSCROffset = uint64(lastOff)
	d.haveFirstSCR = true
	d.currentSCR = lastSCR
	if lastOff > firstOff && lastSCR > firstSCR {
		d.scrRateN = lastOff - firstOff
		d.scrRateD = lastSCR - firstSCR
	}
	if d.scrRateD == 0 {
		return ErrNoRate
	}
	return nil
}

// Seek resolves targetTicks (90kHz SCR units) to a byte offset in src by
// interpolating within the current byte/SCR bracket (initially the whole
// file between the first and last SCR) and narrowing it via bisection,
// bounded to maxSeekDepth recursive refinements.
func (d *Demux) Seek(src Source, targetTicks int64) (int64, error) {
	if d.scrRateD == 0 {
		return 0, ErrNoRate
	}
	lowOff, highOff := int64(0), src.Len()
	lowSCR, highSCR := d.firstSCR, d.lastSCR
	return d.seekBisect(src, targetTicks, lowOff, highOff, lowSCR, highSCR, 0)
}

func (d *Demux) seekBisect(src Source, target, lowOff, highOff, lowSCR, highSCR int64, depth int) (int64, error) {
	if depth >= maxSeekDepth {
		return 0, ErrSeekDepth
	}
	if highSCR <= lowSCR {
		return lowOff, nil
	}

	// Interpolate within the current bracket, then clamp into bounds.
	// Using the bracket's own SCR span (rather than the whole-file rate)
	// keeps each refinement strictly tightening even across a bitrate
	// change or an SCR discontinuity inside the file.
	guess := lowOff + clock.ScaleRate(target-lowSCR, uint64(highOff-lowOff), uint64(highSCR-lowSCR))
	if guess < lowOff {
		guess = lowOff
	}
	if guess > highOff {
		guess = highOff
	}

	scr, off, err := scanForPack(src, guess, minI64(guess+blockSize, src.Len()), true)
	if err != nil {
		// Overshoot past EOF or a hole with no pack header nearby:
		// rescan the whole current bracket.
		scr, off, err = scanForPack(src, lowOff, highOff, true)
		if err != nil {
			return 0, err
		}
	}

	const tolerance = blockSize
	if abs64(scr-target) <= oneSecondInTicks/10 || highOff-lowOff <= tolerance {
		return off, nil
	}
	if scr < target {
		return d.seekBisect(src, target, off, highOff, scr, highSCR, depth+1)
	}
	return d.seekBisect(src, target, lowOff, off, lowSCR, scr, depth+1)
}

// scanForPack scans src[from:to) for the first ("forward", when fromStart
// is true) or last pack-start header it can find, returning its decoded
// SCR and absolute byte offset.
func scanForPack(src Source, from, to int64, fromStart bool) (int64, int64, error) {
	if to > src.Len() {
		to = src.Len()
	}
	if from >= to {
		return 0, 0, io.EOF
	}
	buf := make([]byte, to-from)
	if _, err := src.ReadAt(buf, from); err != nil && err != io.EOF {
		return 0, 0, err
	}

	var bestSCR, bestOff int64
	found := false
	for i := 0; i+12 <= len(buf); i++ {
		if !(buf[i] == 0x00 && buf[i+1] == 0x00 && buf[i+2] == 0x01 && buf[i+3] == 0xba) {
			continue
		}
		scr, _, ok := parsePackSCR(buf[i:])
		if !ok {
			continue
		}
		bestSCR, bestOff = scr, from+int64(i)
		found = true
		if fromStart {
			break
		}
	}
	if !found {
		return 0, 0, io.EOF
	}
	return bestSCR, bestOff, nil
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
