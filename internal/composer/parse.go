package composer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperjump/scholar/internal/apperr"
	"github.com/hyperjump/scholar/internal/citation"
	"github.com/hyperjump/scholar/internal/models"
)

// markerRe matches [n], [n, m, ...] and ranges such as [n-m] or [n–m], with any
// leading horizontal whitespace.
var markerRe = regexp.MustCompile(`[ \t]*\[\s*(\d+(?:\s*[,\-–]\s*\d+)*)\s*\]`)

// maxRangeSpan bounds how many numbers a single range marker expands to.
const maxRangeSpan = 100

// ParseAnswer validates a raw completion against the offered citations.
// Unknown markers are stripped and known ones renumbered 1..k by first appearance.
// When no known marker appears, every offered citation is returned.
func ParseAnswer(raw string, contexts []*models.RetrievedContext, offered []models.Citation, numbering citation.Numbering) (*models.Answer, error) {
	text, cited := renumber(raw, offered)
	if text == "" {
		return nil, apperr.New(apperr.KindUnparseableCompletion, "parse", "completion service returned an empty answer")
	}
	if len(cited) == 0 {
		all := make([]models.Citation, len(offered))
		copy(all, offered)
		return &models.Answer{Text: text, Citations: all, ContextsUsed: len(contexts)}, nil
	}

	used := make(map[int]struct{}, len(cited))
	for _, c := range cited {
		used[c.old] = struct{}{}
	}
	citations := make([]models.Citation, len(cited))
	for i, c := range cited {
		citations[i] = c.Citation
	}
	contextsUsed := 0
	for _, ctx := range contexts {
		if _, ok := used[numbering.Of(ctx)]; ok {
			contextsUsed++
		}
	}
	return &models.Answer{Text: text, Citations: citations, ContextsUsed: contextsUsed}, nil
}

type renumbered struct {
	models.Citation
	old int
}

// renumber rewrites markers in raw against offered and returns the cleaned text together with
// the cited sources in their new order.
func renumber(raw string, offered []models.Citation) (string, []renumbered) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	byOld := make(map[int]models.Citation, len(offered))
	for _, c := range offered {
		byOld[c.Number] = c
	}
	newNum := make(map[int]int)
	var cited []renumbered

	text := markerRe.ReplaceAllStringFunc(raw, func(m string) string {
		lead := m[:len(m)-len(strings.TrimLeft(m, " \t"))]
		inner := markerRe.FindStringSubmatch(m)[1]
		var nums []int
		seen := make(map[int]struct{})
		for _, old := range markerNumbers(inner) {
			c, ok := byOld[old]
			if !ok {
				continue
			}
			n, ok := newNum[old]
			if !ok {
				n = len(cited) + 1
				newNum[old] = n
				c.Number = n
				cited = append(cited, renumbered{Citation: c, old: old})
			}
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			nums = append(nums, n)
		}
		if len(nums) == 0 {
			return ""
		}
		parts := make([]string, len(nums))
		for i, n := range nums {
			parts[i] = strconv.Itoa(n)
		}
		return lead + "[" + strings.Join(parts, ", ") + "]"
	})
	return strings.TrimSpace(text), cited
}

// markerNumbers expands the inside of a marker into the numbers it refers to, in order.
// "1, 3-5" gives 1 3 4 5. A reversed or oversized range keeps only its endpoints.
func markerNumbers(inner string) []int {
	var nums []int
	for _, part := range strings.Split(inner, ",") {
		bounds := strings.FieldsFunc(part, func(r rune) bool { return r == '-' || r == '–' })
		var ends []int
		for _, b := range bounds {
			n, err := strconv.Atoi(strings.TrimSpace(b))
			if err != nil {
				continue
			}
			ends = append(ends, n)
		}
		switch {
		case len(ends) == 0:
		case len(ends) == 1:
			nums = append(nums, ends[0])
		default:
			lo, hi := ends[0], ends[len(ends)-1]
			if hi < lo || hi-lo > maxRangeSpan {
				nums = append(nums, lo, hi)
				continue
			}
			for n := lo; n <= hi; n++ {
				nums = append(nums, n)
			}
		}
	}
	return nums
}
