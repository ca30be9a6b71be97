package compiler

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	hcljson "github.com/hashicorp/hcl/v2/json"

	"github.com/vk/grainload/internal/locator"
)

// Tier is one form a plugin can be loaded from.
type Tier int

const (
	// TierSource parses the native .hcl file.
	TierSource Tier = 0
	// TierArtifact parses the pre-rendered .hcl.json file.
	TierArtifact Tier = 1
	// TierMemory reuses a parse from an earlier import of an unchanged file.
	TierMemory Tier = 2
)

// DefaultOrder prefers the most optimized tier first.
var DefaultOrder = []Tier{TierMemory, TierArtifact, TierSource}

// ValidateOrder checks a tier preference order.
func ValidateOrder(order []Tier) error {
	if len(order) == 0 {
		return fmt.Errorf("optimization order is empty")
	}
	seen := map[Tier]bool{}
	for _, t := range order {
		if t < TierSource || t > TierMemory {
			return fmt.Errorf("optimization order: unknown tier %d (want 0, 1 or 2)", t)
		}
		if seen[t] {
			return fmt.Errorf("optimization order: tier %d listed twice", t)
		}
		seen[t] = true
	}
	if !seen[TierSource] && !seen[TierArtifact] {
		return fmt.Errorf("optimization order must include tier 0 or 1")
	}
	return nil
}

func indexOf(order []Tier, t Tier) int {
	for i, o := range order {
		if o == t {
			return i
		}
	}
	return -1
}

// cachedFile is a memory-tier entry.
type cachedFile struct {
	modTime time.Time
	size    int64
	sum     uint64
	file    *hcl.File
}

// choice is the on-disk form selected for one file pair.
type choice struct {
	path      string
	tier      Tier
	useMemory bool
}

// pick selects among the source and artifact forms of one file. An artifact
// older than its source is stale and skipped.
func (c *Compiler) pick(source, artifact string) (choice, error) {
	for _, t := range c.order {
		switch t {
		case TierArtifact:
			if artifact == "" || !fresh(artifact, source) {
				continue
			}
			return c.choose(artifact, TierArtifact), nil
		case TierSource:
			if source == "" {
				continue
			}
			return c.choose(source, TierSource), nil
		}
	}
	return choice{}, fmt.Errorf("no loadable form among source %q and artifact %q for order %v", source, artifact, c.order)
}

func (c *Compiler) choose(path string, tier Tier) choice {
	mem := indexOf(c.order, TierMemory)
	return choice{path: path, tier: tier, useMemory: mem >= 0 && mem < indexOf(c.order, tier)}
}

func fresh(artifact, source string) bool {
	a, err := os.Stat(artifact)
	if err != nil {
		return false
	}
	if source == "" {
		return true
	}
	s, err := os.Stat(source)
	if err != nil {
		return true
	}
	return !a.ModTime().Before(s.ModTime())
}

// load reads and parses the chosen form, consulting the memory tier first
// when the order asks for it.
func (c *Compiler) load(ch choice) (*hcl.File, bool, error) {
	info, err := os.Stat(ch.path)
	if err != nil {
		return nil, false, err
	}
	src, err := os.ReadFile(ch.path)
	if err != nil {
		return nil, false, err
	}
	sum := xxhash.Checksum64(src)

	if ch.useMemory {
		if hit, ok := c.cache[ch.path]; ok && hit.sum == sum && hit.size == info.Size() && hit.modTime.Equal(info.ModTime()) {
			return hit.file, true, nil
		}
	}

	var file *hcl.File
	var diags hcl.Diagnostics
	if strings.HasSuffix(ch.path, locator.ArtifactExt) {
		file, diags = hcljson.Parse(src, ch.path)
	} else {
		file, diags = hclsyntax.ParseConfig(src, ch.path, hcl.InitialPos)
	}
	if diags.HasErrors() {
		return nil, false, diags
	}

	if indexOf(c.order, TierMemory) >= 0 {
		c.cache[ch.path] = &cachedFile{modTime: info.ModTime(), size: info.Size(), sum: sum, file: file}
	}
	return file, false, nil
}
