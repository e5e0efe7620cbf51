package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// LabelEncoder maps label strings to dense integer codes in sorted order.
// Codes are only meaningful together with the classifier fit against them.
type LabelEncoder struct {
	classes []string
	index   map[string]int
}

func FitLabelEncoder(labels []string) (*LabelEncoder, []int, error) {
	if len(labels) == 0 {
		return nil, nil, errors.New("labels is empty")
	}
	seen := make(map[string]struct{})
	classes := make([]string, 0)
	for _, label := range labels {
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		classes = append(classes, label)
	}
	sort.Strings(classes)

	enc, err := newLabelEncoder(classes)
	if err != nil {
		return nil, nil, err
	}
	codes := make([]int, len(labels))
	for i, label := range labels {
		codes[i] = enc.index[label]
	}
	return enc, codes, nil
}

func newLabelEncoder(classes []string) (*LabelEncoder, error) {
	if len(classes) == 0 {
		return nil, errors.New("encoder has no classes")
	}
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("duplicate class %q", c)
		}
		index[c] = i
	}
	return &LabelEncoder{classes: append([]string(nil), classes...), index: index}, nil
}

func (e *LabelEncoder) Encode(label string) (int, error) {
	code, ok := e.index[label]
	if !ok {
		return 0, fmt.Errorf("label %q was not seen during fit", label)
	}
	return code, nil
}

func (e *LabelEncoder) Decode(code int) (string, error) {
	if code < 0 || code >= len(e.classes) {
		return "", &UnknownCodeError{Code: code}
	}
	return e.classes[code], nil
}

func (e *LabelEncoder) Classes() []string {
	return append([]string(nil), e.classes...)
}

func (e *LabelEncoder) Len() int {
	return len(e.classes)
}

type labelEncoderJSON struct {
	Classes []string `json:"classes"`
}

func (e *LabelEncoder) MarshalJSON() ([]byte, error) {
	return json.Marshal(labelEncoderJSON{Classes: e.classes})
}

func (e *LabelEncoder) UnmarshalJSON(data []byte) error {
	var payload labelEncoderJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	loaded, err := newLabelEncoder(payload.Classes)
	if err != nil {
		return err
	}
	*e = *loaded
	return nil
}
