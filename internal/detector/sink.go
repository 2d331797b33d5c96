package detector

import "errors"

// Fanout delivers every broadcast to each non-nil sink in order. A failing
// sink does not stop the others.
func Fanout(sinks ...Sink) Sink {
	list := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			list = append(list, s)
		}
	}
	return func(event string, payload any) error {
		var errs []error
		for _, s := range list {
			if err := s(event, payload); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
