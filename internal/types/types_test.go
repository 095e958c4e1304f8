package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryPriority(t *testing.T) {
	assert.Less(t, CatAccessControl.Priority(), CatFinancial.Priority())
	assert.Less(t, CatFinancial.Priority(), CatTechnical.Priority())
	assert.Less(t, CatTechnical.Priority(), CatRegulatory.Priority())
	assert.Less(t, CatRegulatory.Priority(), CatInformational.Priority())
	assert.False(t, Category("gas").Valid())
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"High", SevHigh},
		{"ERROR", SevHigh},
		{"WARNING", SevMed},
		{"Low", SevLow},
		{"Informational", SevInfo},
		{"", SevInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSeverity(tt.in))
		})
	}
}

func TestErrorClassification(t *testing.T) {
	transient := fmt.Errorf("stage: %w", &TransientToolError{Tool: "slither", Err: errors.New("timeout")})
	fatal := fmt.Errorf("verify: %w", &FatalIngestionError{Reason: "proxy cycle"})

	assert.True(t, IsTransient(transient))
	assert.False(t, IsFatal(transient))
	assert.True(t, IsFatal(fatal))
	assert.False(t, IsTransient(fatal))
	assert.True(t, IsFatal(ErrCancelled))
}

func TestClaimText(t *testing.T) {
	c := Claim{Sentences: []Sentence{{Text: "A."}, {Text: "B."}}}
	assert.Equal(t, "A. B.", c.Text())
	assert.False(t, c.Refused())
}
