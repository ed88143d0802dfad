package netstart

import (
	"context"
	"errors"
	"log"
)

var (
	ErrNoAddresses        = errors.New("no server addresses configured")
	ErrAllAddressesFailed = errors.New("all server addresses failed")
)

// Connect tries addresses in priority order and returns the first one
// that reaches Started. An address is abandoned only when it reports
// Stopped or refuses to start; none is tried twice.
func Connect(ctx context.Context, t Transport, addresses []string) (string, error) {
	if len(addresses) == 0 {
		return "", ErrNoAddresses
	}

	states := make(chan State, 16)
	unsubscribe := t.OnConnectionState(func(s State) {
		select {
		case states <- s:
		default:
		}
	})
	defer unsubscribe()

	for i, addr := range addresses {
		t.SetClientAddress(addr)
		if !t.StartConnection() {
			log.Printf("connect: %s could not be started", addr)
			continue
		}

		ok, err := awaitOutcome(ctx, states)
		if err != nil {
			t.StopConnection()
			return "", err
		}
		if ok {
			log.Printf("connect: connected to %s", addr)
			return addr, nil
		}
		log.Printf("connect: %s failed, %d addresses left", addr, len(addresses)-i-1)
	}

	log.Printf("connect: %v", ErrAllAddressesFailed)
	return "", ErrAllAddressesFailed
}

func awaitOutcome(ctx context.Context, states <-chan State) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case s := <-states:
			switch s {
			case Started:
				return true, nil
			case Stopped:
				return false, nil
			}
		}
	}
}
