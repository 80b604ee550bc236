// Package app contains the top-level orchestration for the receiver and
// sender roles.
package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/1ureka/mirror/internal/relay"
	"github.com/1ureka/mirror/internal/store"
)

// OpenStore connects to the record store named by rawURL:
//
//	ws://, wss://, http://, https://   relay server
//	redis://, rediss://                 Redis
//	mongodb://, mongodb+srv://          MongoDB (database from the path, default "mirror")
//	memory:                             in-process (single-process demos)
func OpenStore(ctx context.Context, rawURL, token string) (store.Store, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid store URL %q: %w", rawURL, err)
	}

	var st store.Store
	switch u.Scheme {
	case "ws", "wss", "http", "https":
		u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
		st, err = relay.Dial(ctx, u.String(), token)
	case "redis", "rediss":
		st, err = OpenRedis(ctx, u.String(), 0)
	case "mongodb", "mongodb+srv":
		db := strings.Trim(u.Path, "/")
		if db == "" {
			db = "mirror"
		}
		st, err = OpenMongo(ctx, u.String(), db)
	case "memory":
		st = store.NewMemory()
	default:
		return nil, fmt.Errorf("unsupported store scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(ctx context.Context, rawURL string, ttl time.Duration) (*store.Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return store.NewRedis(client, ttl), nil
}

// OpenMongo connects to MongoDB and makes sure the code index exists.
func OpenMongo(ctx context.Context, uri, db string) (*store.Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	st := store.NewMongo(client, db)
	if err := st.EnsureIndexes(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// ParseICEServers turns "url" or "url|username|credential" entries into
// pion ICE servers. TURN entries must carry credentials.
func ParseICEServers(entries []string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer
	for i, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}

		var server webrtc.ICEServer
		parts := strings.Split(e, "|")
		switch len(parts) {
		case 1:
			server = webrtc.ICEServer{URLs: []string{parts[0]}}
		case 3:
			server = webrtc.ICEServer{
				URLs:       []string{parts[0]},
				Username:   parts[1],
				Credential: parts[2],
			}
		default:
			return nil, fmt.Errorf("ice_servers[%d]: want url or url|username|credential", i)
		}

		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("ice_servers[%d]: %w", i, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func validateICEServer(s webrtc.ICEServer) error {
	for _, u := range s.URLs {
		scheme, _, ok := strings.Cut(u, ":")
		if !ok {
			return fmt.Errorf("invalid ICE URL %q", u)
		}
		switch strings.ToLower(scheme) {
		case "stun", "stuns":
		case "turn", "turns":
			if s.Username == "" || s.Credential == "" {
				return fmt.Errorf("TURN URL %q needs a username and credential", u)
			}
		default:
			return fmt.Errorf("unsupported ICE URL scheme %q", scheme)
		}
	}
	return nil
}
