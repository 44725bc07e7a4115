package usecase

import (
	"fmt"
	"slices"

	"secure-message-service/internal/domain"
)

// ownership は役割とは独立に課される所有者条件。
type ownership int

const (
	ownerAny ownership = iota
	ownerSender
	ownerReceiver
)

// transitionRule は1つの操作に対する遷移規則。
type transitionRule struct {
	roles []domain.Role
	owner ownership
	from  []domain.MessageState
	to    domain.MessageState
	kind  domain.AuditKind
}

// transitionRules は操作ごとの遷移表。認可と状態検査はこの表のみで行う。
var transitionRules = map[domain.Action]transitionRule{
	domain.ActionSend: {
		roles: []domain.Role{domain.RoleUser, domain.RolePublisher},
		owner: ownerSender,
		from:  []domain.MessageState{domain.StateDraft},
		to:    domain.StateSent,
		kind:  domain.AuditSend,
	},
	domain.ActionAccept: {
		roles: []domain.Role{domain.RoleRouter},
		from:  []domain.MessageState{domain.StateSent},
		to:    domain.StateRouterAccepted,
		kind:  domain.AuditAccept,
	},
	domain.ActionCertify: {
		roles: []domain.Role{domain.RoleAuthority},
		from:  []domain.MessageState{domain.StateRouterAccepted},
		to:    domain.StateCertificateCreated,
		kind:  domain.AuditCertificate,
	},
	domain.ActionDeliver: {
		roles: []domain.Role{domain.RoleAuthority, domain.RoleRouter},
		from:  []domain.MessageState{domain.StateCertificateCreated},
		to:    domain.StateDelivered,
		kind:  domain.AuditDeliver,
	},
	domain.ActionReject: {
		roles: []domain.Role{domain.RoleRouter, domain.RoleAuthority},
		from:  []domain.MessageState{domain.StateSent, domain.StateRouterAccepted, domain.StateCertificateCreated},
		to:    domain.StateRejected,
		kind:  domain.AuditReject,
	},
}

// deliverOnReadRule は受信者の初回閲覧による自動配達の規則。役割は問わない。
var deliverOnReadRule = transitionRule{
	owner: ownerReceiver,
	from:  []domain.MessageState{domain.StateCertificateCreated},
	to:    domain.StateDelivered,
	kind:  domain.AuditDeliver,
}

// ruleFor は操作に対応する規則を返す。
func ruleFor(action domain.Action) (transitionRule, error) {
	rule, ok := transitionRules[action]
	if !ok {
		return transitionRule{}, fmt.Errorf("%w: %q", domain.ErrInvalidAction, action)
	}
	return rule, nil
}

// authorize は役割、所有者、遷移元状態の順に検査する。
func (r transitionRule) authorize(actor domain.Actor, msg *domain.Message) error {
	if len(r.roles) > 0 && !slices.Contains(r.roles, actor.Role) {
		return fmt.Errorf("%w: role %s is not permitted", domain.ErrForbidden, actor.Role)
	}
	switch r.owner {
	case ownerSender:
		if actor.ID != msg.SenderID {
			return fmt.Errorf("%w: actor is not the sender", domain.ErrForbidden)
		}
	case ownerReceiver:
		if actor.ID != msg.ReceiverID {
			return fmt.Errorf("%w: actor is not the receiver", domain.ErrForbidden)
		}
	}
	if !slices.Contains(r.from, msg.State) {
		return fmt.Errorf("%w: message is %s", domain.ErrInvalidState, msg.State)
	}
	return nil
}

// Allowed は遷移表に載っている遷移かどうかを返す。
func Allowed(from, to domain.MessageState) bool {
	for _, rule := range transitionRules {
		if rule.to == to && slices.Contains(rule.from, from) {
			return true
		}
	}
	return false
}
