package cmd

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/sofmeright/freightqueue/src/config"
	"github.com/sofmeright/freightqueue/src/engine"
	"github.com/sofmeright/freightqueue/src/queue"
	"github.com/sofmeright/freightqueue/src/status"
)

// stack holds the collaborators shared by serve and build.
type stack struct {
	engine    *engine.Docker
	hub       *status.Hub
	redis     *status.Redis
	publisher status.Publisher
}

func newStack(c *config.Config, withHub bool) *stack {
	eng := engine.NewDocker(c.Engine.Binary)
	eng.Env = c.Engine.Env
	st := &stack{engine: eng}

	var pubs status.Multi
	if c.Status.LogEvents {
		pubs = append(pubs, status.NewLog())
	}
	if rc := c.Status.Redis; rc.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		st.redis = status.NewRedis(client, status.RedisOptions{
			KeyPrefix: rc.KeyPrefix,
			Channel:   rc.Channel,
			TTL:       rc.TTL.Std(),
		})
		pubs = append(pubs, st.redis)
		log.WithField("addr", rc.Addr).Info("publishing build status to redis")
	}
	if withHub {
		st.hub = status.NewHub(0)
		pubs = append(pubs, st.hub)
	}
	st.publisher = pubs
	return st
}

func (s *stack) scheduler(ctx context.Context, qc config.QueueConfig) (*queue.Scheduler, error) {
	return queue.New(ctx, queue.Config{
		MaxConcurrentBuilds: qc.MaxConcurrentBuilds,
		HistorySize:         qc.HistorySize,
	}, queue.Deps{
		Engine:    s.engine,
		Publisher: s.publisher,
	})
}

func (s *stack) Close() {
	if s.redis == nil {
		return
	}
	if err := s.redis.Close(); err != nil {
		log.WithError(err).Debug("closing redis client")
	}
}
