package conquest

import (
	"math"
	"sort"

	"github.com/ronkeverse/ufo-server/galaxy"
	"github.com/ronkeverse/ufo-server/game"
)

const (
	aiAttackRange   = 600.0
	aiSendPercent   = 50.0
	aiMinSourceUnit = 20.0
	aiActionsPerRun = 2
)

// stepAI runs each AI player's decision pass on its difficulty interval.
func (s *Sim) stepAI() {
	interval := settingsFor(s.Difficulty).AIInterval
	for _, pl := range s.Players {
		if !pl.IsAI || !pl.Alive {
			continue
		}
		if s.GameTime-s.lastAIAt[pl.ID] < interval {
			continue
		}
		s.lastAIAt[pl.ID] = s.GameTime
		s.aiManageGenerators(pl)
		s.aiAttackPass(pl)
	}
}

// aiManageGenerators keeps the biggest planets generating, inside the cap.
func (s *Sim) aiManageGenerators(pl *Player) {
	var owned []*galaxy.Planet
	for _, p := range s.Planets {
		if p.OwnerID == pl.ID {
			owned = append(owned, p)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].Radius > owned[j].Radius })
	allowed := MaxGenerators(len(owned))
	for i, p := range owned {
		want := i < allowed
		if p.Generating != want {
			p.Generating = want
			s.ev.planetChanged(p.ID)
		}
	}
}

type aiOption struct {
	fromID int
	toID   int
	score  float64
}

// aiAttackPass scores every (source, target) pair within range and executes
// the best two with a 50% send.
func (s *Sim) aiAttackPass(pl *Player) {
	var options []aiOption
	for _, from := range s.Planets {
		if from.OwnerID != pl.ID || from.Units < aiMinSourceUnit {
			continue
		}
		for _, to := range s.Planets {
			if to.ID == from.ID || to.OwnerID == pl.ID || to.IsSun() || to.IsBlackHole {
				continue
			}
			dist := game.Distance(from.X, from.Y, to.X, to.Y)
			if dist > aiAttackRange {
				continue
			}
			score, ok := s.aiScoreTarget(pl, from, to, dist)
			if ok {
				options = append(options, aiOption{fromID: from.ID, toID: to.ID, score: score})
			}
		}
	}
	sort.Slice(options, func(i, j int) bool { return options[i].score > options[j].score })
	for i := 0; i < len(options) && i < aiActionsPerRun; i++ {
		s.LaunchAttack(pl.ID, options[i].fromID, options[i].toID, aiSendPercent, false)
	}
}

func (s *Sim) aiScoreTarget(pl *Player, from, to *galaxy.Planet, dist float64) (float64, bool) {
	if to.OwnerID == galaxy.NeutralOwner {
		// Empty neutrals are the cheapest expansion.
		score := 50 * (1 - to.Units/math.Max(1, to.MaxUnits))
		score += (aiAttackRange - dist) / aiAttackRange * 10
		return score, true
	}

	// Enemy planets only when a 50% send still wins after decay.
	send := math.Floor(from.Units * aiSendPercent / 100)
	arriving := ComputeArrivingUnits(send, dist)
	if arriving <= to.Units*to.Defense*1.2 {
		return 0, false
	}
	score := 30.0
	if enemy := s.PlayerByID(to.OwnerID); enemy != nil && enemy.HomeID == to.ID {
		score += 40
	}
	return score, true
}
