package journey

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tripwise/planner/backend/internal/model/journey"
)

func TestExtract_UserText(t *testing.T) {
	cases := []struct {
		name string
		text string
		want *model.Intent
	}{
		{"from to", "I want to go from Paris to Rome", &model.Intent{Origin: "Paris", Destination: "Rome"}},
		{"multi word", "Plan a trip from New York to Boston", &model.Intent{Origin: "New York", Destination: "Boston"}},
		{"question", "How do I get from London to Paris?", &model.Intent{Origin: "London", Destination: "Paris"}},
		{"leading verb", "I'm planning to travel from Los Angeles to San Francisco", &model.Intent{Origin: "Los Angeles", Destination: "San Francisco"}},
		{"clause after destination", "from Paris to Rome on Friday please", &model.Intent{Origin: "Paris", Destination: "Rome"}},
		{"heading to", "Leaving from Madrid heading to Lisbon tomorrow", &model.Intent{Origin: "Madrid", Destination: "Lisbon"}},
		{"to from", "I want to fly to Tokyo from Seattle next week", &model.Intent{Origin: "Seattle", Destination: "Tokyo"}},
		{"between", "What's the distance between Berlin and Munich?", &model.Intent{Origin: "Berlin", Destination: "Munich"}},
		{"arrow", "Route: Lyon -> Nice", &model.Intent{Origin: "Lyon", Destination: "Nice"}},
		{"unicode arrow", "Paris → Rome", &model.Intent{Origin: "Paris", Destination: "Rome"}},
		{"case preserved", "FROM paris TO rome", &model.Intent{Origin: "paris", Destination: "rome"}},
		{"quotes trimmed", `from "Oslo" to "Bergen"`, &model.Intent{Origin: "Oslo", Destination: "Bergen"}},
		{"abbreviated origin", "from St. Louis to Chicago", &model.Intent{Origin: "St. Louis", Destination: "Chicago"}},
		{"abbreviated destination", "We drive from Denver to Ft. Collins tomorrow.", &model.Intent{Origin: "Denver", Destination: "Ft. Collins"}},
		{"sentence end", "From Paris to Rome. Then maybe Naples.", &model.Intent{Origin: "Paris", Destination: "Rome"}},
		{"no journey", "tell me a joke", nil},
		{"half match", "I'm leaving from Paris", nil},
		{"not places", "from here to there", nil},
		{"idiom", "I travel from time to time", nil},
		{"away from", "I'd like to get away from work", nil},
		{"too long", "Take me from Paris to a really lovely place that I heard about", nil},
		{"empty", "", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, New().Extract(tc.text, ""))
		})
	}
}

func TestExtract_FallsBackToAssistant(t *testing.T) {
	got := New().Extract("yes please", "Great, your trip from Chicago to Denver is set.")

	require.NotNil(t, got)
	assert.Equal(t, "Chicago", got.Origin)
	assert.Equal(t, "Denver", got.Destination)
}

func TestExtract_UserTextWins(t *testing.T) {
	got := New().Extract("from Paris to Rome", "You could also go from Milan to Venice.")

	require.NotNil(t, got)
	assert.Equal(t, "Paris", got.Origin)
	assert.Equal(t, "Rome", got.Destination)
}

func TestExtract_NeitherText(t *testing.T) {
	assert.Nil(t, New().Extract("hello", "Hi! Where would you like to go?"))
}

func TestExtractor_RuleOrder(t *testing.T) {
	// both rules match; the earlier one decides
	first := Rule{Name: "first", Pattern: regexp.MustCompile(`(\w+)/(\w+)`), Origin: 1, Destination: 2}
	second := Rule{Name: "second", Pattern: regexp.MustCompile(`(\w+)/(\w+)`), Origin: 2, Destination: 1}

	got := New(first, second).Extract("Oslo/Bergen", "")
	require.NotNil(t, got)
	assert.Equal(t, "Oslo", got.Origin)

	got = New(second, first).Extract("Oslo/Bergen", "")
	require.NotNil(t, got)
	assert.Equal(t, "Bergen", got.Origin)
}

func TestExtractor_BadGroupIndexSkipped(t *testing.T) {
	broken := Rule{Name: "broken", Pattern: regexp.MustCompile(`(\w+)/(\w+)`), Origin: 1, Destination: 5}

	assert.Nil(t, New(broken).Extract("Oslo/Bergen", ""))
}

func TestPlaceEnd(t *testing.T) {
	assert.Equal(t, -1, placeEnd("St. Louis"))
	assert.Equal(t, -1, placeEnd("Mt. Fuji"))
	assert.Equal(t, 4, placeEnd("Rome. Then"))
	assert.Equal(t, 2, placeEnd("St."))
	assert.Equal(t, 2, placeEnd("st. louis"))
	assert.Equal(t, 5, placeEnd("Paris, France"))
}

func TestCleanPlace(t *testing.T) {
	place, ok := cleanPlace("  Rio de Janeiro next month.")
	assert.True(t, ok)
	assert.Equal(t, "Rio de Janeiro", place)

	_, ok = cleanPlace("42")
	assert.False(t, ok)

	_, ok = cleanPlace(" ,Rome")
	assert.False(t, ok)
}
