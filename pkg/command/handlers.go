package command

import (
	"context"
	"fmt"
	"strings"

	"civagent/pkg/config"
)

const (
	lookUpEntry       = "look_up"
	keepActivityEntry = "keep_activity"
)

type handlers struct {
	Deps
}

// RoleRegistry builds the handler set for a worker role. Controllers decide and may ask
// for game information; advisors only suggest.
func RoleRegistry(role string, deps Deps) (*Registry, error) {
	h := &handlers{Deps: withDefaults(deps)}
	reg := NewRegistry()
	switch role {
	case config.RoleController:
		reg.Register(FinalDecision, h.finalDecision)
		reg.Register(AskCurrentGameInformation, h.askCurrentGameInformation)
	case config.RoleAdvisor:
		reg.Register(Suggestion, h.suggestion)
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if deps.Retriever != nil {
		reg.Register(ManualAndHistorySearch, h.manualAndHistorySearch)
	}
	return reg, nil
}

func (h *handlers) finalDecision(_ context.Context, in Input, _ string, actions []string) (Result, error) {
	action, ok := in.String("action")
	if !ok {
		return Result{}, missing("action")
	}
	if !containsFold(actions, action) {
		h.Logger.Warn("chosen action %q not in available actions %v, retrying", action, actions)
		return Result{Fragment: h.Fragments.InsistAvailAction()}, nil
	}

	s := h.Session
	s.RecordAction(action)
	for _, prefix := range h.Dialogue.GotoPrefixes {
		if s.RepeatedLast(prefix, h.Dialogue.GotoRepeat, h.Dialogue.PrefixLen) {
			s.ClearLedger()
			return Result{Fragment: h.Fragments.InsistVariousActions(prefix)}, nil
		}
	}
	if s.RepeatedLast(keepActivityEntry, h.Dialogue.KeepActivityRepeat, 0) {
		s.ClearLedger()
		return Result{Fragment: h.Fragments.InsistVariousActions(keepActivityEntry)}, nil
	}
	return Result{Action: action, HasAction: true}, nil
}

func (h *handlers) manualAndHistorySearch(ctx context.Context, in Input, _ string, _ []string) (Result, error) {
	s := h.Session
	if s.RepeatedLast(lookUpEntry, h.Dialogue.LookUpRepeat, 0) {
		s.AddUserMessage(h.Fragments.FinishLookFor())
		s.ClearLedger()
		return Result{}, nil
	}

	query, ok := in.String("look_up")
	if !ok {
		return Result{}, missing("look_up")
	}

	var answer string
	err := h.Retrieval.Do(ctx, func(ctx context.Context) error {
		var err error
		answer, err = h.Retriever.Answer(ctx, query)
		return err
	})
	if err != nil {
		h.Logger.Error("manual lookup %q failed: %v", query, err)
		return Result{Fragment: h.Fragments.InsistJSON()}, nil
	}

	answer += ".\n"
	if h.Rand.Float64() < h.Dialogue.FinalizeNudgeProb {
		answer += h.Fragments.FinishLookFor()
	}
	s.AddUserMessage(answer)
	s.RecordAction(lookUpEntry)
	return Result{}, nil
}

func (h *handlers) suggestion(_ context.Context, in Input, _ string, _ []string) (Result, error) {
	text, ok := in.String("suggestion")
	if !ok {
		return Result{}, missing("suggestion")
	}
	return Result{Action: text, HasAction: true}, nil
}

func (h *handlers) askCurrentGameInformation(_ context.Context, _ Input, _ string, _ []string) (Result, error) {
	h.Session.RecordAction(kindNames[AskCurrentGameInformation])
	return Result{}, nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
