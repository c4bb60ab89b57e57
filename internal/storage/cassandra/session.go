// Package cassandra implements the storage contracts on the column-family
// datastore. Column family names are stable across versions; do not rename.
package cassandra

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

// Connect dials the cluster and ensures the schema exists.
func Connect(hosts []string, keyspace string) (*gocql.Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 10 * time.Second

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cassandra: connect %v: %w", hosts, err)
	}

	if err := EnsureSchema(session); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

// EnsureSchema creates the column families. Creation order is fixed: base
// tables before their index tables. Treated as order-sensitive.
func EnsureSchema(session *gocql.Session) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS "Messages" (
			"messageBoxId" text,
			"created" bigint,
			"threadKey" text,
			"createdBy" text,
			"body" text,
			"level" int,
			"replyTo" bigint,
			"deleted" bigint,
			PRIMARY KEY ("messageBoxId", "created"))`,
		`CREATE TABLE IF NOT EXISTS "MessageBoxMessages" (
			"messageBoxId" text,
			"threadKey" text,
			"value" bigint,
			PRIMARY KEY ("messageBoxId", "threadKey"))
			WITH CLUSTERING ORDER BY ("threadKey" ASC)`,
		`CREATE TABLE IF NOT EXISTS "MessageBoxMessagesDeleted" (
			"messageBoxId" text,
			"createdTimestamp" bigint,
			"value" text,
			PRIMARY KEY ("messageBoxId", "createdTimestamp"))`,
		`CREATE TABLE IF NOT EXISTS "MessageBoxRecentContributions" (
			"messageBoxId" text,
			"contributorId" text,
			"value" bigint,
			PRIMARY KEY ("messageBoxId", "contributorId"))`,
		`CREATE TABLE IF NOT EXISTS "ActivityStreams" (
			"recipientId" text,
			"streamType" text,
			"format" text,
			"activityId" text,
			"published" bigint,
			"entry" text,
			PRIMARY KEY (("recipientId", "streamType", "format"), "activityId"))`,
		`CREATE TABLE IF NOT EXISTS "Invitations" (
			"email" text,
			"resourceId" text,
			"resourceType" text,
			"role" text,
			"inviterUserId" text,
			"token" text,
			"created" bigint,
			PRIMARY KEY ("email", "resourceId"))`,
		`CREATE TABLE IF NOT EXISTS "InvitationsByToken" (
			"token" text,
			"email" text,
			"resourceId" text,
			PRIMARY KEY ("token", "email", "resourceId"))`,
		`CREATE TABLE IF NOT EXISTS "ActivityRoutePending" (
			"bucket" int,
			"seq" bigint,
			"seed" text,
			PRIMARY KEY ("bucket", "seq"))`,
	}

	for _, stmt := range stmts {
		if err := session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("cassandra: ensure schema: %w", err)
		}
	}
	return nil
}
