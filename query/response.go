package query

// Response is the wrapped result of single-row, maybe-single and head
// queries, and of list queries cached together with their count.
type Response struct {
	Data  any  `json:"data" msgpack:"data" yaml:"data"`
	Count *int `json:"count,omitempty" msgpack:"count,omitempty" yaml:"count,omitempty"`
}

// HasMorePage is one page of a "has more" paginated query.
type HasMorePage struct {
	Data    []Entity `json:"data" msgpack:"data" yaml:"data"`
	HasMore bool     `json:"hasMore" msgpack:"hasMore" yaml:"hasMore"`
}
