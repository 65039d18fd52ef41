package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stellarlinkco/ircrelay/internal/cron"
	"github.com/stellarlinkco/ircrelay/internal/responder"
)

const (
	pruneJobName = "__internal_logs_prune"
	pruneJobMsg  = cron.InternalPrefix + "logs:prune"
	pruneJobExpr = "0 0 * * * *"

	// jobUser is who scheduled prompts are attributed to.
	jobUser = "cron"
)

func (g *Gateway) ensureInternalJobs() error {
	_, created, err := g.cron.EnsureJob(pruneJobName, cron.Schedule{Kind: cron.KindCron, Expr: pruneJobExpr}, cron.Payload{Message: pruneJobMsg})
	if err != nil {
		return err
	}
	if created {
		g.logger.Info("registered internal job", zap.String("job", pruneJobName))
	}
	return nil
}

// runJob is the cron handler: internal commands run in place, anything else
// is a prompt whose answer is optionally delivered to payload.To.
func (g *Gateway) runJob(ctx context.Context, job cron.CronJob) (result string, err error) {
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		g.metrics.JobRun(status)
	}()

	if job.Internal() {
		switch job.Payload.Message {
		case pruneJobMsg:
			n, err := g.logs.Prune()
			if err != nil {
				return "", fmt.Errorf("prune channel log: %w", err)
			}
			return fmt.Sprintf("pruned %d entries", n), nil
		default:
			return "", fmt.Errorf("unknown internal job %q", job.Payload.Message)
		}
	}

	req := responder.Request{Question: job.Payload.Message, User: jobUser, Channel: job.Payload.To}
	if job.Payload.To != "" {
		req.Logs = g.logs.ForChannel(job.Payload.To, g.cfg.Memory.ContextLogs)
	}
	answer, err := g.responder.Respond(ctx, req)
	if err != nil {
		g.metrics.GeneratorError()
		return "", err
	}

	if job.Payload.Deliver && job.Payload.To != "" {
		// No requester: directives in a scheduled answer are refused.
		rep, err := g.scheduler.Deliver(ctx, job.Payload.To, answer, "")
		g.recordDelivery(rep)
		if err != nil {
			return answer, fmt.Errorf("deliver job result: %w", err)
		}
	}
	return answer, nil
}
