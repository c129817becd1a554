package discovery

import "time"

type option func(Discover) Discover

func WithPortRange(startPort, endPort uint16) option {
	return func(d Discover) Discover {
		d.startPort = startPort
		d.endPort = endPort
		return d
	}
}

func WithPort(port uint16) option {
	return WithPortRange(port, port)
}

// WithInterval sets the pause between two searches of the port range.
func WithInterval(interval time.Duration) option {
	return func(d Discover) Discover {
		d.interval = interval
		return d
	}
}

// WithHost sets the host whose port range is searched.
func WithHost(host string) option {
	return func(d Discover) Discover {
		d.host = host
		return d
	}
}
