package vr

import (
	engerrors "github.com/bobboyms/olap-engine/pkg/errors"
)

// Role é o papel de uma réplica no protocolo
type Role int

const (
	RolePrimary Role = iota
	RoleBackup
	RoleRecovering
	RoleViewChange
)

func (r Role) String() string {
	return [...]string{"PRIMARY", "BACKUP", "RECOVERING", "VIEW_CHANGE"}[r]
}

// validTransitions é EXATAMENTE o conjunto permitido:
//   PRIMARY    -> VIEW_CHANGE
//   BACKUP     -> PRIMARY | VIEW_CHANGE
//   RECOVERING -> BACKUP | PRIMARY
//   VIEW_CHANGE-> PRIMARY | BACKUP
var validTransitions = map[Role][]Role{
	RolePrimary:    {RoleViewChange},
	RoleBackup:     {RolePrimary, RoleViewChange},
	RoleRecovering: {RoleBackup, RolePrimary},
	RoleViewChange: {RolePrimary, RoleBackup},
}

// transitionTo valida e aplica a mudança de papel
func (n *Node) transitionTo(target Role) error {
	for _, allowed := range validTransitions[n.role] {
		if allowed == target {
			n.role = target
			return nil
		}
	}
	return &engerrors.InvalidStateTransitionError{
		NodeID: n.id,
		From:   n.role.String(),
		To:     target.String(),
	}
}

// Operation é uma entrada do log replicado
type Operation struct {
	ClientID      string
	RequestNumber uint64
	Payload       []byte
}

// stateEntry é um par chave/valor do snapshot de state transfer
type stateEntry struct {
	Key   []byte
	Value []byte
}
