package finder

import (
	"sort"

	"github.com/hbollon/go-edlib"

	"github.com/oakwood-commons/unifind/internal/entity"
)

// DefaultSimilarity is the Jaro-Winkler score at which a differently
// spelled candidate is reported as a near duplicate.
const DefaultSimilarity = 0.92

// FindExisting returns the first candidate whose name equals name ignoring
// case, and whose discriminator field equals disc when spec declares one.
func FindExisting(spec entity.Spec, cands []entity.Candidate, name, disc string) *entity.Candidate {
	if entity.NormalizeName(name) == "" {
		return nil
	}
	for i := range cands {
		c := cands[i]
		if !entity.SameName(c.Name, name) {
			continue
		}
		if spec.HasDiscriminator() && !entity.SameName(c.Field(spec.Discriminator), disc) {
			continue
		}
		return &c
	}
	return nil
}

// FindSimilar returns candidates whose names are close to name without being
// equal, best match first.
func FindSimilar(cands []entity.Candidate, name string, threshold float32) []entity.Candidate {
	key := entity.FoldKey(name)
	if key == "" {
		return nil
	}
	type scored struct {
		c     entity.Candidate
		score float32
	}
	var hits []scored
	for _, c := range cands {
		other := entity.FoldKey(c.Name)
		if other == key {
			continue
		}
		score, err := edlib.StringsSimilarity(key, other, edlib.JaroWinkler)
		if err != nil || score < threshold {
			continue
		}
		hits = append(hits, scored{c: c, score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	out := make([]entity.Candidate, len(hits))
	for i, h := range hits {
		out[i] = h.c
	}
	return out
}
