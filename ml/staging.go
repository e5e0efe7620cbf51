package ml

import "os"

// StagedFiles tracks fully written temporary files and the paths they
// replace. Nothing is visible at a final path until Commit.
type StagedFiles struct {
	pending [][2]string
}

func (s *StagedFiles) Add(tmp, final string) {
	s.pending = append(s.pending, [2]string{tmp, final})
}

// Merge moves every pending file of other into s.
func (s *StagedFiles) Merge(other *StagedFiles) {
	if other == nil {
		return
	}
	s.pending = append(s.pending, other.pending...)
	other.pending = nil
}

func (s *StagedFiles) Len() int {
	return len(s.pending)
}

// Commit renames every staged file into place in the order added. On
// failure the files not yet renamed are removed.
func (s *StagedFiles) Commit() error {
	for i, p := range s.pending {
		if err := os.Rename(p[0], p[1]); err != nil {
			s.pending = s.pending[i:]
			s.Discard()
			return err
		}
	}
	s.pending = nil
	return nil
}

func (s *StagedFiles) Discard() {
	for _, p := range s.pending {
		os.Remove(p[0])
	}
	s.pending = nil
}
