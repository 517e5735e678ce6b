package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMetric is returned when a metric name does not match any descriptor.
var ErrUnknownMetric = errors.New("unknown metric")

// Metric identifies one cached aggregate counter.
type Metric string

const (
	GoodArticles Metric = "good_articles"
	TotalPages   Metric = "total_pages"
	Images       Metric = "images"
	Users        Metric = "users"
)

// NSMain is the main (article) namespace.
const NSMain = 0

// Predicate restricts a count to rows whose column holds one of Values.
type Predicate struct {
	Column string
	Values []int64
}

// Source describes the rows a metric counts.
type Source struct {
	Table string
	Where []Predicate
}

// Descriptor ties a metric to its source collection and its summary field.
type Descriptor struct {
	Metric Metric
	Label  string
	Field  string
	Source Source
}

// Summary record layout.
const (
	SummaryTable = "site_stats"
	SummaryKey   = "ss_row_id"
	SummaryRowID = 1
	FieldGood    = "ss_good_articles"
	FieldTotal   = "ss_total_pages"
	FieldImages  = "ss_images"
	FieldUsers   = "ss_users"
)

// Descriptors returns the tracked metrics in display order. An empty
// contentNamespaces slice means only the main namespace counts as content.
func Descriptors(contentNamespaces []int64) []Descriptor {
	if len(contentNamespaces) == 0 {
		contentNamespaces = []int64{NSMain}
	}
	ns := append([]int64(nil), contentNamespaces...)

	return []Descriptor{
		{
			Metric: GoodArticles,
			Label:  "Good articles",
			Field:  FieldGood,
			Source: Source{
				Table: "page",
				Where: []Predicate{
					{Column: "page_namespace", Values: ns},
					{Column: "page_is_redirect", Values: []int64{0}},
				},
			},
		},
		{Metric: TotalPages, Label: "Total pages", Field: FieldTotal, Source: Source{Table: "page"}},
		{Metric: Images, Label: "Images", Field: FieldImages, Source: Source{Table: "image"}},
		{Metric: Users, Label: "Users", Field: FieldUsers, Source: Source{Table: "user"}},
	}
}

// SummaryFields lists every field the summary record carries.
func SummaryFields() []string {
	return []string{FieldGood, FieldTotal, FieldImages, FieldUsers}
}

// IsSummaryField reports whether field is a known summary column.
func IsSummaryField(field string) bool {
	for _, f := range SummaryFields() {
		if f == field {
			return true
		}
	}
	return false
}

// Lookup finds the descriptor for name among descs. Matching ignores case
// and accepts the summary field name as an alias.
func Lookup(descs []Descriptor, name string) (Descriptor, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, d := range descs {
		if string(d.Metric) == name || d.Field == name {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
}
