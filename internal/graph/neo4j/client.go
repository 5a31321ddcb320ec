package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/kbcurator/backend/pkg/circuitbreaker"
	"github.com/kbcurator/backend/pkg/logger"
	"github.com/kbcurator/backend/pkg/retry"
)

// Client stores agent->document assignment links. The link graph is
// the declared intent ("this agent should know this document"); the
// chunk table is the materialized reality. The maintenance sweep
// reconciles the two.
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx := context.Background()
	err = driver.VerifyConnectivity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// AssignDocument records that the agent's knowledge base should include
// the document.
func (c *Client) AssignDocument(ctx context.Context, agentID, documentID string) error {
	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.Run(ctx, `
			MERGE (a:Agent {id: $agentID})
			MERGE (d:Document {id: $documentID})
			MERGE (a)-[r:ASSIGNED]->(d)
			ON CREATE SET r.created_at = timestamp()
		`, map[string]interface{}{
			"agentID":    agentID,
			"documentID": documentID,
		})
		if err != nil {
			return fmt.Errorf("failed to assign document: %w", err)
		}
		return nil
	})
}

func (c *Client) UnassignDocument(ctx context.Context, agentID, documentID string) error {
	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.Run(ctx, `
			MATCH (a:Agent {id: $agentID})-[r:ASSIGNED]->(d:Document {id: $documentID})
			DELETE r
		`, map[string]interface{}{
			"agentID":    agentID,
			"documentID": documentID,
		})
		if err != nil {
			return fmt.Errorf("failed to unassign document: %w", err)
		}
		return nil
	})
}

// ListAssignedDocuments returns the ids of documents the agent is
// linked to.
func (c *Client) ListAssignedDocuments(ctx context.Context, agentID string) ([]string, error) {
	var ids []string

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		result, err := session.Run(ctx, `
			MATCH (a:Agent {id: $agentID})-[:ASSIGNED]->(d:Document)
			RETURN d.id AS id
			ORDER BY d.id
		`, map[string]interface{}{
			"agentID": agentID,
		})
		if err != nil {
			return fmt.Errorf("failed to list assigned documents: %w", err)
		}

		ids = ids[:0]
		for result.Next(ctx) {
			record := result.Record()
			if id, ok := record.Get("id"); ok {
				if s, ok := id.(string); ok {
					ids = append(ids, s)
				}
			}
		}
		return result.Err()
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}
