// Package store persists the connection tree: folders and RDP
// connection profiles, addressed by node id. The engine treats profile
// fields as read-only input; credentials are never stored here, only a
// reference into the vault.
package store

import (
	"context"
	"errors"
	"time"
)

// Node kinds.
const (
	KindFolder  = "folder"
	KindProfile = "profile"
)

// Store errors.
var (
	ErrNotFound      = errors.New("store: node not found")
	ErrNotFolder     = errors.New("store: parent is not a folder")
	ErrCycle         = errors.New("store: move would create a cycle")
	ErrNotProfile    = errors.New("store: node is not a profile")
	ErrRootImmutable = errors.New("store: the root folder cannot be moved or deleted")
)

// Node is one entry in the connection tree. ParentID is empty only for
// the root folder.
type Node struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RDPProfile holds the connection fields of a profile node. SecretRef
// names a vault entry holding the password; it is opaque to the store.
type RDPProfile struct {
	NodeID        string `json:"node_id"`
	Host          string `json:"host"`
	Port          uint16 `json:"port"`
	Username      string `json:"username"`
	Domain        string `json:"domain,omitempty"`
	SecretRef     string `json:"secret_ref,omitempty"`
	DesktopWidth  uint16 `json:"desktop_width,omitempty"`
	DesktopHeight uint16 `json:"desktop_height,omitempty"`
}

// Store is the persistence interface for the connection tree.
// Implementations must be safe for concurrent use.
type Store interface {
	// Root returns the root folder, created on first open.
	Root(ctx context.Context) (*Node, error)

	CreateFolder(ctx context.Context, parentID, name string) (*Node, error)
	CreateProfile(ctx context.Context, parentID, name string, p *RDPProfile) (*Node, error)

	GetNode(ctx context.Context, id string) (*Node, error)
	GetProfile(ctx context.Context, nodeID string) (*RDPProfile, error)
	ListChildren(ctx context.Context, parentID string) ([]*Node, error)

	Rename(ctx context.Context, id, name string) error
	Move(ctx context.Context, id, newParentID string) error
	UpdateProfile(ctx context.Context, p *RDPProfile) error

	// DeleteNode removes a node and, for folders, the whole subtree.
	DeleteNode(ctx context.Context, id string) error

	Close() error
}
