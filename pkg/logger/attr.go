package logger

import "log/slog"

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Event records the event name under the key "event".
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// UserID records the user identifier under the key "user_id".
// If id is nil, it returns an empty Attr.
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

// SubscriptionID records the billing subscription identifier under the key
// "subscription_id".
func SubscriptionID(id string) slog.Attr {
	return slog.String("subscription_id", id)
}

// ChangeID records the scheduled-change identifier under the key "change_id".
// If id is nil, it returns an empty Attr.
func ChangeID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("change_id", id)
}

// JobID records the delayed-job handle under the key "job_id".
func JobID(id string) slog.Attr {
	return slog.String("job_id", id)
}

// PlanID records a plan key under the key "plan_id".
func PlanID(id string) slog.Attr {
	return slog.String("plan_id", id)
}

// Slug records a link slug under the key "slug".
func Slug(slug string) slog.Attr {
	return slog.String("slug", slug)
}

// Duration records a duration under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}
