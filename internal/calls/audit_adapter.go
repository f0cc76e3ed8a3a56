package calls

import (
	"context"

	"callops/internal/audit"
)

// AuditAdapter bridges the state machine's audit hook to audit.Service.
type AuditAdapter struct {
	Audit *audit.Service
}

func (a AuditAdapter) LogDialRejected(ctx context.Context, workspaceID, sessionID string, result DialResult) error {
	if a.Audit == nil {
		return nil
	}
	return a.Audit.LogDialRejected(ctx, workspaceID, sessionID, string(result))
}

func (a AuditAdapter) LogStatusIgnored(ctx context.Context, workspaceID, sessionID string, stored *ProviderStatus, incoming ProviderStatus) error {
	if a.Audit == nil {
		return nil
	}
	cur := "null"
	if stored != nil {
		cur = string(*stored)
	}
	return a.Audit.LogStatusIgnored(ctx, workspaceID, sessionID, cur, string(incoming))
}
