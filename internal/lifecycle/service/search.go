package service

import (
	"context"
	"slices"
	"sort"
	"strings"

	"fundops/internal/lifecycle/models"
	id "fundops/pkg/domain"
)

// StoreSearch is the built-in SearchProvider: a case-insensitive match over
// evidence folders and filenames, ranked by how many query terms hit.
type StoreSearch struct {
	evidence EvidenceStore
}

func NewStoreSearch(evidence EvidenceStore) *StoreSearch {
	return &StoreSearch{evidence: evidence}
}

func (p *StoreSearch) Search(ctx context.Context, fundID id.FundID, query string, partitions []string, limit int) ([]SearchHit, error) {
	terms := strings.Fields(strings.ToLower(query))
	docs, err := p.evidence.ListEvidence(ctx, fundID, models.EvidenceFilter{})
	if err != nil {
		return nil, err
	}
	hits := make([]SearchHit, 0, len(docs))
	for _, d := range docs {
		if partitions != nil && !slices.Contains(partitions, d.RootFolder()) {
			continue
		}
		score := matchScore(terms, strings.ToLower(d.Folder+"/"+d.Filename))
		if score == 0 && len(terms) > 0 {
			continue
		}
		hits = append(hits, SearchHit{
			EvidenceID: d.ID,
			Filename:   d.Filename,
			Folder:     d.Folder,
			Partition:  d.RootFolder(),
			Score:      score,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Filename < hits[j].Filename
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func matchScore(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 1
	}
	var n int
	for _, t := range terms {
		if strings.Contains(text, t) {
			n++
		}
	}
	return float64(n) / float64(len(terms))
}
