package vsphere

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"

	"opsnav/internal/apperr"
)

// WaitTask polls task every 2 seconds until it leaves the queued/running
// states, matching the original's poll interval, and enforces deadline as
// a hard ceiling distinct from ctx's own cancellation.
func (c *Client) WaitTask(ctx context.Context, task *object.Task, name string, deadline time.Duration) (*types.AnyType, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		var t mo.Task
		if err := property.DefaultCollector(c.soap.Client).RetrieveOne(ctx, task.Reference(), []string{"info"}, &t); err != nil {
			return nil, apperr.Wrap(apperr.HypervisorKind, fmt.Sprintf("%s: read task state", name), err)
		}
		info := t.Info

		if info.State == types.TaskInfoStateSuccess {
			return info.Result, nil
		}
		if info.State == types.TaskInfoStateError {
			detail := "unknown error"
			if info.Error != nil {
				detail = info.Error.LocalizedMessage
			}
			return nil, apperr.New(apperr.HypervisorKind, fmt.Sprintf("%s failed: %s", name, detail))
		}

		select {
		case <-ctx.Done():
			return nil, apperr.New(apperr.TimeoutKind, fmt.Sprintf("%s timed out after %s", name, deadline))
		case <-ticker.C:
		}
	}
}

// AnswerPendingQuestion implements the "I copied it" auto-answer: prefer
// an option whose label contains copy/copied/复制, otherwise the second
// offered choice, otherwise the literal key "2".
func (c *Client) AnswerPendingQuestion(ctx context.Context, vm *object.VirtualMachine) error {
	var moVM mo.VirtualMachine
	if err := vm.Properties(ctx, vm.Reference(), []string{"runtime.question"}, &moVM); err != nil {
		return nil
	}
	q := moVM.Runtime.Question
	if q == nil {
		return nil
	}

	choice := ""
	for _, opt := range q.Choice.ChoiceInfo {
		info, ok := opt.(*types.ElementDescription)
		if !ok {
			continue
		}
		label := strings.ToLower(info.Description.Label)
		if strings.Contains(label, "copied") || strings.Contains(label, "copy") || strings.Contains(info.Description.Label, "复制") {
			choice = info.Key
			break
		}
	}
	if choice == "" && len(q.Choice.ChoiceInfo) >= 2 {
		if info, ok := q.Choice.ChoiceInfo[1].(*types.ElementDescription); ok {
			choice = info.Key
		}
	}
	if choice == "" {
		choice = "2"
	}

	return vm.Answer(ctx, q.Id, choice)
}

// WaitForTaskWithQuestions polls runtime.question every second (to auto-answer any
// blocking dialog) up to the deadline, then returns once the task
// reaches a terminal state outside queued/running — used for PowerOn,
// which can block on the copied/moved question.
func (c *Client) WaitForTaskWithQuestions(ctx context.Context, task *object.Task, vm *object.VirtualMachine, name string, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		var t mo.Task
		if err := property.DefaultCollector(c.soap.Client).RetrieveOne(ctx, task.Reference(), []string{"info"}, &t); err != nil {
			return apperr.Wrap(apperr.HypervisorKind, fmt.Sprintf("%s: read task state", name), err)
		}

		if t.Info.State == types.TaskInfoStateSuccess {
			return nil
		}
		if t.Info.State == types.TaskInfoStateError {
			detail := "unknown error"
			if t.Info.Error != nil {
				detail = t.Info.Error.LocalizedMessage
			}
			return apperr.New(apperr.HypervisorKind, fmt.Sprintf("%s failed: %s", name, detail))
		}

		_ = c.AnswerPendingQuestion(ctx, vm)

		select {
		case <-ctx.Done():
			return apperr.New(apperr.TimeoutKind, fmt.Sprintf("%s timed out after %s", name, deadline))
		case <-ticker.C:
		}
	}
}

// WaitToolsReady polls guest.toolsRunningStatus until it reports running
// or executing scripts, or deadline elapses.
func (c *Client) WaitToolsReady(ctx context.Context, vm *object.VirtualMachine, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		var moVM mo.VirtualMachine
		if err := vm.Properties(ctx, vm.Reference(), []string{"guest.toolsRunningStatus"}, &moVM); err == nil {
			status := string(moVM.Guest.ToolsRunningStatus)
			if status == string(types.VirtualMachineToolsRunningStatusGuestToolsRunning) ||
				status == string(types.VirtualMachineToolsRunningStatusGuestToolsExecutingScripts) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return apperr.New(apperr.TimeoutKind, fmt.Sprintf("VMware Tools not ready after %s", deadline))
		case <-ticker.C:
		}
	}
}
