package cluster

import (
	"reflect"
	"testing"
)

func TestKeywords(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		n     int
		want  []string
	}{
		{
			name:  "frequency order",
			texts: []string{"Password reset fails", "reset password link expired", "password reset again"},
			n:     2,
			want:  []string{"password", "reset"},
		},
		{
			name:  "ties keep first seen order",
			texts: []string{"billing invoice refund"},
			n:     3,
			want:  []string{"billing", "invoice", "refund"},
		},
		{
			name:  "stopwords and short tokens dropped",
			texts: []string{"I want to go to the app is ok"},
			n:     10,
			want:  []string{"want", "app"},
		},
		{
			name:  "punctuation stripped",
			texts: []string{"login! login? LOGIN."},
			n:     5,
			want:  []string{"login"},
		},
		{
			name:  "empty input",
			texts: nil,
			n:     5,
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Keywords(tt.texts, tt.n)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Keywords() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeywords_DefaultCount(t *testing.T) {
	texts := []string{"alpha bravo charlie delta echo foxtrot golf hotel india juliet kilo lima"}
	got := Keywords(texts, 0)
	if len(got) != DefaultKeywordCount {
		t.Errorf("got %d keywords, want %d", len(got), DefaultKeywordCount)
	}
}
