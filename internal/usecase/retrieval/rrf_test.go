package retrieval

import (
	"testing"

	"github.com/kailas-cloud/noesis/internal/domain"
)

func match(id string) domain.ChunkMatch {
	return domain.ChunkMatch{ChunkID: id, DocumentID: "doc-" + id}
}

func TestFuseRRF_BothListsOutrankSingle(t *testing.T) {
	vector := []domain.ChunkMatch{match("a"), match("b")}
	lexical := []domain.ChunkMatch{match("c"), match("a")}

	fused := fuseRRF(vector, lexical, 10)

	if len(fused) != 3 {
		t.Fatalf("fused %d results, want 3", len(fused))
	}
	if fused[0].ChunkID != "a" {
		t.Errorf("top result = %s, want a (appears in both rankings)", fused[0].ChunkID)
	}
}

func TestFuseRRF_ScoresAreReciprocalRankSums(t *testing.T) {
	vector := []domain.ChunkMatch{match("a")}
	lexical := []domain.ChunkMatch{match("a")}

	fused := fuseRRF(vector, lexical, 10)

	want := 2.0 / float64(rrfK+1)
	if len(fused) != 1 || fused[0].Score != want {
		t.Fatalf("score = %v, want %v", fused[0].Score, want)
	}
}

func TestFuseRRF_TopKTruncates(t *testing.T) {
	vector := []domain.ChunkMatch{match("a"), match("b"), match("c")}

	fused := fuseRRF(vector, nil, 2)

	if len(fused) != 2 {
		t.Fatalf("fused %d results, want 2", len(fused))
	}
}

func TestFuseRRF_EmptyInputs(t *testing.T) {
	if got := fuseRRF(nil, nil, 5); len(got) != 0 {
		t.Fatalf("fused %d results from empty inputs", len(got))
	}
}
