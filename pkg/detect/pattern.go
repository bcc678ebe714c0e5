package detect

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/praetor-ai/rampart/pkg/normalize"
	"github.com/praetor-ai/rampart/pkg/patterns"
)

// maxPatternSignals bounds how many signals a single evaluation can carry out
// of the pattern stage. Max-fusion only needs the strongest hits.
const maxPatternSignals = 16

// obfuscationFloor is the minimum number of normalization rewrites before the
// input's own obfuscation becomes a signal. A single confusable glyph in
// otherwise plain text is noise; several rewrites on one input is evasion.
const obfuscationFloor = 2

// PatternDetector scans inputs against the signature catalog. The catalog is
// held behind an atomic pointer so a hot reload swaps it without pausing
// in-flight scans.
type PatternDetector struct {
	catalog atomic.Pointer[patterns.Catalog]
}

// NewPatternDetector builds the detector around an initial catalog.
func NewPatternDetector(c *patterns.Catalog) *PatternDetector {
	d := &PatternDetector{}
	d.catalog.Store(c)
	return d
}

// Reload atomically replaces the active catalog. In-flight scans finish on
// the catalog they started with.
func (d *PatternDetector) Reload(c *patterns.Catalog) {
	old := d.catalog.Swap(c)
	log.Printf("[PATTERNS] catalog reloaded: %s (%d rules) -> %s (%d rules)",
		old.Version, old.Len(), c.Version, c.Len())
}

// Catalog returns the currently active catalog.
func (d *PatternDetector) Catalog() *patterns.Catalog {
	return d.catalog.Load()
}

func (d *PatternDetector) Name() string           { return "pattern" }
func (d *PatternDetector) Priority() int          { return 1 }
func (d *PatternDetector) Timeout() time.Duration { return 50 * time.Millisecond }

// Detect scans the raw and canonical text, the structured tool arguments,
// and finally considers the normalization trail itself: input that needed
// heavy de-obfuscation is suspicious regardless of what it decoded to.
func (d *PatternDetector) Detect(ctx context.Context, in *Input) ([]Signal, error) {
	c := d.catalog.Load()

	var signals []Signal
	for _, m := range c.Scan(in.Norm.Original, in.Norm.Canonical, maxPatternSignals) {
		signals = append(signals, matchSignal(m))
	}
	if in.Tool != "" || in.Arguments != "" {
		for _, m := range c.ScanArguments(in.Tool, in.Arguments, maxPatternSignals) {
			signals = append(signals, matchSignal(m))
		}
	}

	if s, ok := obfuscationSignal(in.Norm); ok {
		signals = append(signals, s)
	}
	return signals, ctx.Err()
}

func matchSignal(m patterns.Match) Signal {
	return Signal{
		Source:     SourcePattern,
		RuleID:     m.Rule.ID,
		Category:   m.Rule.Category,
		Severity:   m.Rule.Severity,
		Confidence: m.Rule.Confidence,
		Excerpt:    m.Excerpt,
		Detail:     m.Rule.Description,
	}
}

// obfuscationSignal turns a heavy normalization trail into its own finding.
// Confidence scales with how many distinct transformation kinds fired.
func obfuscationSignal(n *normalize.Result) (Signal, bool) {
	kinds := make(map[normalize.Transformation]struct{}, len(n.Applied))
	for _, t := range n.Applied {
		if t == normalize.TransformLowercase {
			continue
		}
		kinds[t] = struct{}{}
	}
	if len(kinds) < obfuscationFloor {
		return Signal{}, false
	}
	conf := 0.4 + 0.15*float64(len(kinds)-obfuscationFloor)
	if conf > 0.8 {
		conf = 0.8
	}
	return Signal{
		Source:     SourcePattern,
		RuleID:     "evasion_layered_obfuscation",
		Category:   patterns.CategoryEncodingEvasion,
		Severity:   patterns.SeverityMedium,
		Confidence: conf,
		Detail:     fmt.Sprintf("input required %d normalization passes to read", len(kinds)),
	}, true
}
