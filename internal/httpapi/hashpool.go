package httpapi

import (
	"context"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// HashPool bounds concurrent bcrypt work so a burst of registrations
// cannot pin every core.
type HashPool struct {
	cost int
	sem  *semaphore.Weighted
}

func NewHashPool(cost int, maxConcurrent int64) *HashPool {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &HashPool{cost: cost, sem: semaphore.NewWeighted(maxConcurrent)}
}

func (p *HashPool) Hash(ctx context.Context, password string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.sem.Release(1)
	raw, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (p *HashPool) Compare(ctx context.Context, hash, password string) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
