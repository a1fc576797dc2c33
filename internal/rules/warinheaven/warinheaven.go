// Package warinheaven implements War in Heaven, a two-faction skirmish on a
// hex board. Angels sit at seat 0 and Demons at seat 1.
package warinheaven

import (
	"sort"

	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/rules"
)

const (
	Angels = 0
	Demons = 1

	PhaseAction = "action"
	PhaseCombat = "combat"
	PhaseOver   = "over"

	ActionMove       = "move"
	ActionEndActions = "end_actions"
	ActionAttack     = "attack"
	ActionEndTurn    = "end_turn"

	baseActions      = 3
	defaultMaxRounds = 12
)

// Movement classes.
const (
	MoveStep     = "step"
	MovePhase    = "phase"
	MoveLine     = "line"
	MoveStepPush = "step_push"
	MoveStepPull = "step_pull"

	phaseRange = 3
)

// Piece is a unit on the board.
type Piece struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Faction   int    `json:"faction"`
	Pos       Hex    `json:"pos"`
	Class     string `json:"class"`
	Attack    int    `json:"attack"`
	Defense   int    `json:"defense"`
	Commander bool   `json:"commander,omitempty"`

	Moved    bool `json:"moved,omitempty"`
	Attacked bool `json:"attacked,omitempty"`
}

type pieceKind struct {
	name      string
	class     string
	attack    int
	defense   int
	commander bool
}

var (
	kindCommander = pieceKind{"commander", MoveStep, 2, 4, true}
	kindWarrior   = pieceKind{"warrior", MoveStep, 2, 2, false}
	kindPhantom   = pieceKind{"phantom", MovePhase, 1, 2, false}
	kindLancer    = pieceKind{"lancer", MoveLine, 2, 1, false}
	kindTitan     = pieceKind{"titan", MoveStepPush, 3, 3, false}
	kindBinder    = pieceKind{"binder", MoveStepPull, 1, 3, false}
)

// angelSetup is mirrored through the centre for the Demons.
var angelSetup = []struct {
	kind pieceKind
	pos  Hex
}{
	{kindCommander, Hex{2, -4}},
	{kindWarrior, Hex{1, -3}},
	{kindWarrior, Hex{3, -3}},
	{kindTitan, Hex{2, -3}},
	{kindPhantom, Hex{0, -3}},
	{kindLancer, Hex{4, -4}},
	{kindBinder, Hex{0, -4}},
}

// Gate is a gate hex and the faction that last stood on it, or -1.
type Gate struct {
	Hex   Hex `json:"hex"`
	Owner int `json:"owner"`
}

// State is the full War in Heaven payload.
type State struct {
	Pieces    []Piece `json:"pieces"`
	Gates     []Gate  `json:"gates"`
	Active    int     `json:"active"`
	Round     int     `json:"round"`
	MaxRounds int     `json:"maxRounds"`
	Phase     string  `json:"phase"`
	Budget    int     `json:"budget"`
	Winners   []int   `json:"winners,omitempty"`
	Victory   string  `json:"victory,omitempty"`
}

// MovePayload moves Piece to To.
type MovePayload struct {
	Piece string `json:"piece"`
	To    Hex    `json:"to"`
}

// AttackPayload declares Attackers against Target.
type AttackPayload struct {
	Target    string   `json:"target"`
	Attackers []string `json:"attackers"`
}

// Engine is the War in Heaven rule engine.
type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) Type() models.GameType { return models.GameTypeWarInHeaven }

func (e *Engine) Seats() (int, int) { return 2, 2 }

func (e *Engine) Initialize(setup rules.Setup) (rules.Outcome, error) {
	if setup.Seats != 2 {
		return rules.Outcome{}, rules.Invalid("war in heaven needs exactly 2 players, got %d", setup.Seats)
	}
	maxRounds, err := rules.Options(setup.Options).Int("maxRounds", defaultMaxRounds, 1)
	if err != nil {
		return rules.Outcome{}, rules.Invalid("%v", err)
	}
	st := &State{Active: Angels, Round: 1, MaxRounds: maxRounds}
	for faction, prefix := range []string{"A", "D"} {
		counts := map[string]int{}
		for _, s := range angelSetup {
			counts[s.kind.name]++
			pos := s.pos
			if faction == Demons {
				pos = Hex{-pos.Q, -pos.R}
			}
			st.Pieces = append(st.Pieces, Piece{
				ID:        pieceID(prefix, s.kind.name, counts[s.kind.name]),
				Kind:      s.kind.name,
				Faction:   faction,
				Pos:       pos,
				Class:     s.kind.class,
				Attack:    s.kind.attack,
				Defense:   s.kind.defense,
				Commander: s.kind.commander,
			})
		}
	}
	for _, h := range GateHexes {
		st.Gates = append(st.Gates, Gate{Hex: h, Owner: -1})
	}
	recharge(st)
	return e.outcome(st, nil)
}

func pieceID(prefix, kind string, n int) string {
	id := prefix + "-" + kind
	if n > 1 || kind == kindWarrior.name {
		id += "-" + string(rune('0'+n))
	}
	return id
}

// recharge opens the active faction's turn.
func recharge(st *State) {
	st.Phase = PhaseAction
	st.Budget = baseActions + st.GatesHeld(st.Active)
	for i := range st.Pieces {
		st.Pieces[i].Moved = false
		st.Pieces[i].Attacked = false
	}
}

// GatesHeld counts the gates faction controls.
func (s *State) GatesHeld(faction int) int {
	n := 0
	for _, g := range s.Gates {
		if g.Owner == faction {
			n++
		}
	}
	return n
}

func (s *State) piece(id string) *Piece {
	for i := range s.Pieces {
		if s.Pieces[i].ID == id {
			return &s.Pieces[i]
		}
	}
	return nil
}

// At returns the piece standing on h, or nil.
func (s *State) At(h Hex) *Piece {
	for i := range s.Pieces {
		if s.Pieces[i].Pos == h {
			return &s.Pieces[i]
		}
	}
	return nil
}

func (s *State) free(h Hex) bool {
	return Passable(h) && s.At(h) == nil
}

func (s *State) remove(id string) {
	for i := range s.Pieces {
		if s.Pieces[i].ID == id {
			s.Pieces = append(s.Pieces[:i], s.Pieces[i+1:]...)
			return
		}
	}
}

// Count returns how many pieces faction has left.
func (s *State) Count(faction int) int {
	n := 0
	for _, p := range s.Pieces {
		if p.Faction == faction {
			n++
		}
	}
	return n
}

func (s *State) hasCommander(faction int) bool {
	for _, p := range s.Pieces {
		if p.Faction == faction && p.Commander {
			return true
		}
	}
	return false
}

// CanReach reports whether p may legally move to dest under its movement class.
func (s *State) CanReach(p *Piece, dest Hex) bool {
	if !s.free(dest) {
		return false
	}
	switch p.Class {
	case MoveStep, MoveStepPush, MoveStepPull:
		return Distance(p.Pos, dest) == 1
	case MovePhase:
		d := Distance(p.Pos, dest)
		return d >= 1 && d <= phaseRange
	case MoveLine:
		dir, n, ok := LineDirection(p.Pos, dest)
		if !ok {
			return false
		}
		for k := 1; k < n; k++ {
			if !s.free(p.Pos.Add(dir.Scale(k))) {
				return false
			}
		}
		return true
	}
	return false
}

func (e *Engine) Validate(data []byte, seat int, move models.MoveData) error {
	st, err := rules.Decode[State](data)
	if err != nil {
		return err
	}
	_, err = step(st, seat, move)
	return err
}

func (e *Engine) Apply(data []byte, seat int, move models.MoveData) (rules.Outcome, error) {
	st, err := rules.Decode[State](data)
	if err != nil {
		return rules.Outcome{}, err
	}
	notes, err := step(st, seat, move)
	if err != nil {
		return rules.Outcome{}, err
	}
	return e.outcome(st, notes)
}

// step validates and applies move to st in place.
func step(st *State, seat int, move models.MoveData) (map[string]any, error) {
	if seat != Angels && seat != Demons {
		return nil, rules.Invalid("seat %d is not in this game", seat)
	}
	if st.Phase == PhaseOver {
		return nil, rules.Invalid("the game is over")
	}
	if seat != st.Active {
		return nil, rules.Invalid("it is the other faction's turn")
	}
	notes := map[string]any{}

	switch move.Action {
	case ActionMove:
		if st.Phase != PhaseAction {
			return nil, rules.Invalid("movement is over for this turn")
		}
		var p MovePayload
		if err := rules.DecodePayload(move, &p); err != nil {
			return nil, err
		}
		pc := st.piece(p.Piece)
		if pc == nil || pc.Faction != seat {
			return nil, rules.Invalid("you have no piece %q", p.Piece)
		}
		if pc.Moved {
			return nil, rules.Invalid("%s has already moved this turn", pc.ID)
		}
		if !st.CanReach(pc, p.To) {
			return nil, rules.Invalid("%s cannot reach (%d,%d)", pc.ID, p.To.Q, p.To.R)
		}
		pc.Pos = p.To
		pc.Moved = true
		switch pc.Class {
		case MoveStepPush:
			if moved := push(st, pc); len(moved) > 0 {
				notes["pushed"] = moved
			}
		case MoveStepPull:
			if moved := pull(st, pc); len(moved) > 0 {
				notes["pulled"] = moved
			}
		}
		st.Budget--
		if st.Budget == 0 {
			st.Phase = PhaseCombat
		}

	case ActionEndActions:
		if st.Phase != PhaseAction {
			return nil, rules.Invalid("the action phase is already over")
		}
		st.Phase = PhaseCombat

	case ActionAttack:
		if st.Phase != PhaseCombat {
			return nil, rules.Invalid("attacks are declared in the combat phase")
		}
		var p AttackPayload
		if err := rules.DecodePayload(move, &p); err != nil {
			return nil, err
		}
		if err := attack(st, seat, p, notes); err != nil {
			return nil, err
		}
		checkCommanders(st)

	case ActionEndTurn:
		if st.Phase != PhaseCombat {
			return nil, rules.Invalid("end the action phase first")
		}
		endTurn(st)

	default:
		return nil, rules.Invalid("unknown action %q", move.Action)
	}
	if st.Phase == PhaseOver {
		notes["victory"] = st.Victory
	}
	return notes, nil
}

// push shoves every enemy adjacent to the mover one hex further away when the
// landing hex is free.
func push(st *State, mover *Piece) []string {
	var moved []string
	for _, dir := range Directions {
		enemy := st.At(mover.Pos.Add(dir))
		if enemy == nil || enemy.Faction == mover.Faction {
			continue
		}
		dest := enemy.Pos.Add(dir)
		if st.free(dest) {
			enemy.Pos = dest
			moved = append(moved, enemy.ID)
		}
	}
	return moved
}

// pull draws every enemy two hexes away in a straight line one hex closer.
func pull(st *State, mover *Piece) []string {
	var moved []string
	for _, dir := range Directions {
		enemy := st.At(mover.Pos.Add(dir.Scale(2)))
		if enemy == nil || enemy.Faction == mover.Faction {
			continue
		}
		dest := mover.Pos.Add(dir)
		if st.free(dest) {
			enemy.Pos = dest
			moved = append(moved, enemy.ID)
		}
	}
	return moved
}

// attack resolves one declaration. Attack strengths are summed against the
// target's defense; a surviving target strikes back, eliminating attackers
// weakest first for as long as its strike exceeds their defense.
func attack(st *State, seat int, p AttackPayload, notes map[string]any) error {
	target := st.piece(p.Target)
	if target == nil || target.Faction == seat {
		return rules.Invalid("no enemy piece %q", p.Target)
	}
	if len(p.Attackers) == 0 {
		return rules.Invalid("name at least one attacker")
	}
	seen := map[string]bool{}
	var attackers []*Piece
	total := 0
	for _, id := range p.Attackers {
		a := st.piece(id)
		switch {
		case a == nil || a.Faction != seat:
			return rules.Invalid("you have no piece %q", id)
		case seen[id]:
			return rules.Invalid("%s is listed twice", id)
		case a.Attacked:
			return rules.Invalid("%s has already attacked this turn", id)
		case Distance(a.Pos, target.Pos) != 1:
			return rules.Invalid("%s is not adjacent to %s", id, target.ID)
		}
		seen[id] = true
		attackers = append(attackers, a)
		total += a.Attack
	}

	var eliminated []string
	for _, a := range attackers {
		a.Attacked = true
	}
	if total > target.Defense {
		eliminated = append(eliminated, target.ID)
		st.remove(target.ID)
		notes["eliminated"] = eliminated
		return nil
	}

	sort.SliceStable(attackers, func(i, j int) bool {
		if attackers[i].Defense != attackers[j].Defense {
			return attackers[i].Defense < attackers[j].Defense
		}
		return attackers[i].ID < attackers[j].ID
	})
	targetID, strike := target.ID, target.Attack
	var fallen []string
	for _, a := range attackers {
		if strike <= a.Defense {
			break
		}
		strike -= a.Defense
		fallen = append(fallen, a.ID)
	}
	for _, id := range fallen {
		st.remove(id)
	}
	notes["repelled"] = targetID
	if len(fallen) > 0 {
		notes["eliminated"] = fallen
	}
	return nil
}

// checkCommanders ends the game as soon as a commander falls.
func checkCommanders(st *State) {
	angels, demons := st.hasCommander(Angels), st.hasCommander(Demons)
	switch {
	case !angels && !demons:
		finish(st, "commanders", Angels, Demons)
	case !angels:
		finish(st, "commander", Demons)
	case !demons:
		finish(st, "commander", Angels)
	}
}

// endTurn settles gate control, checks the board conditions and the round
// ceiling, then hands the turn to the other faction.
func endTurn(st *State) {
	for i := range st.Gates {
		if p := st.At(st.Gates[i].Hex); p != nil {
			st.Gates[i].Owner = p.Faction
		}
	}
	if st.GatesHeld(Angels) == len(st.Gates) {
		finish(st, "gates", Angels)
		return
	}
	if p := st.At(Citadel); p != nil && p.Faction == Demons {
		finish(st, "citadel", Demons)
		return
	}
	if st.Active == Demons {
		if st.Round >= st.MaxRounds {
			a, d := st.Count(Angels), st.Count(Demons)
			switch {
			case a > d:
				finish(st, "ceiling", Angels)
			case d > a:
				finish(st, "ceiling", Demons)
			default:
				finish(st, "ceiling", Angels, Demons)
			}
			return
		}
		st.Round++
	}
	st.Active = 1 - st.Active
	recharge(st)
}

func finish(st *State, victory string, winners ...int) {
	st.Phase = PhaseOver
	st.Victory = victory
	st.Winners = winners
}

// View returns data unchanged: the board holds no hidden information.
func (e *Engine) View(data []byte, seat int) ([]byte, error) {
	if _, err := rules.Decode[State](data); err != nil {
		return nil, err
	}
	return data, nil
}

func (e *Engine) IsTerminal(data []byte) (bool, []int, error) {
	st, err := rules.Decode[State](data)
	if err != nil {
		return false, nil, err
	}
	return st.Phase == PhaseOver, st.Winners, nil
}

func (e *Engine) outcome(st *State, notes map[string]any) (rules.Outcome, error) {
	data, err := rules.Encode(st)
	if err != nil {
		return rules.Outcome{}, err
	}
	return rules.Outcome{
		Data:     data,
		NextSeat: st.Active,
		Phase:    st.Phase,
		Terminal: st.Phase == PhaseOver,
		Winners:  st.Winners,
		Notes:    notes,
	}, nil
}
