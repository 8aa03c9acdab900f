package billing

// Bool returns a pointer to b, for UpdateParams fields.
func Bool(b bool) *bool { return &b }

// String returns a pointer to s, for UpdateParams fields.
func String(s string) *string { return &s }
