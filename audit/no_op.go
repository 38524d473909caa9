package audit

// Ensure NoOpLogger implements Logger interface
var _ Logger = (*NoOpLogger)(nil)

// NoOpLogger discards all events. Used when auditing is disabled.
type NoOpLogger struct{}

func (n *NoOpLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	return nil
}

func (n *NoOpLogger) Query(options QueryOptions) (QueryResult, error) {
	return QueryResult{
		Events:     []Event{},
		TotalCount: 0,
		Filtered:   0,
		HasMore:    false,
	}, nil
}

func (n *NoOpLogger) Close() error {
	return nil
}
