package daterange

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"kasiran/admin/internal/domain"
)

type Phase string

const (
	PhaseClosed         Phase = "closed"
	PhaseSelectingStart Phase = "selecting_start"
	PhaseSelectingEnd   Phase = "selecting_end"
)

var (
	ErrClosed      = errors.New("date picker is closed")
	ErrInvalidDate = errors.New("date must be formatted as YYYY-MM-DD")
)

const gridCells = 42

type Cell struct {
	Date    string `json:"date"`
	Day     int    `json:"day"`
	InMonth bool   `json:"in_month"`
	InRange bool   `json:"in_range"`
	IsStart bool   `json:"is_start"`
	IsEnd   bool   `json:"is_end"`
}

type State struct {
	Phase     Phase            `json:"phase"`
	Range     domain.DateRange `json:"range"`
	Candidate string           `json:"candidate,omitempty"`
	Month     string           `json:"month"`
	Grid      [][]Cell         `json:"grid"`
}

// Selector is a popover calendar that picks a start and an end day. The
// committed range only changes, and onChange only fires, once both ends have
// been picked.
type Selector struct {
	mu        sync.Mutex
	phase     Phase
	start     time.Time
	end       time.Time
	candidate time.Time
	month     time.Time
	onChange  func(domain.DateRange)
}

func New(initial domain.DateRange, onChange func(domain.DateRange)) (*Selector, error) {
	start, err := ParseDate(initial.Start)
	if err != nil {
		return nil, err
	}
	end, err := ParseDate(initial.End)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		start, end = end, start
	}
	return &Selector{
		phase:    PhaseClosed,
		start:    start,
		end:      end,
		month:    firstOfMonth(end),
		onChange: onChange,
	}, nil
}

// NewMonthToDate starts with the first of the current month through today.
func NewMonthToDate(now time.Time, onChange func(domain.DateRange)) *Selector {
	today := dateOnly(now)
	return &Selector{
		phase:    PhaseClosed,
		start:    firstOfMonth(today),
		end:      today,
		month:    firstOfMonth(today),
		onChange: onChange,
	}
}

func (s *Selector) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseSelectingStart
	s.candidate = time.Time{}
}

// Close abandons a pick in progress. The committed range is kept.
func (s *Selector) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseClosed
	s.candidate = time.Time{}
}

// Pick handles a click on a grid day. Days outside the viewed month are
// padding cells and do nothing. The second pick commits the range, ordered so
// start <= end, and closes the popover.
func (s *Selector) Pick(day time.Time) (domain.DateRange, bool, error) {
	day = dateOnly(day)

	s.mu.Lock()
	if s.phase == PhaseClosed {
		s.mu.Unlock()
		return domain.DateRange{}, false, ErrClosed
	}
	if !sameMonth(day, s.month) {
		current := s.rangeLocked()
		s.mu.Unlock()
		return current, false, nil
	}
	if s.phase == PhaseSelectingStart {
		s.candidate = day
		s.phase = PhaseSelectingEnd
		current := s.rangeLocked()
		s.mu.Unlock()
		return current, false, nil
	}

	start, end := s.candidate, day
	if end.Before(start) {
		start, end = end, start
	}
	s.start, s.end = start, end
	s.candidate = time.Time{}
	s.phase = PhaseClosed
	committed := s.rangeLocked()
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(committed)
	}
	return committed, true, nil
}

func (s *Selector) PickDate(raw string) (domain.DateRange, bool, error) {
	day, err := ParseDate(raw)
	if err != nil {
		return domain.DateRange{}, false, err
	}
	return s.Pick(day)
}

func (s *Selector) Previous() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.month = s.month.AddDate(0, -1, 0)
}

func (s *Selector) Next() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.month = s.month.AddDate(0, 1, 0)
}

func (s *Selector) Range() domain.DateRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rangeLocked()
}

func (s *Selector) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Selector) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := State{
		Phase: s.phase,
		Range: s.rangeLocked(),
		Month: s.month.Format("2006-01"),
		Grid:  s.gridLocked(),
	}
	if !s.candidate.IsZero() {
		state.Candidate = s.candidate.Format(domain.DateLayout)
	}
	return state
}

// gridLocked lays the viewed month out as six Monday-first weeks.
func (s *Selector) gridLocked() [][]Cell {
	offset := (int(s.month.Weekday()) + 6) % 7
	cursor := s.month.AddDate(0, 0, -offset)

	from, to := s.start, s.end
	if s.phase == PhaseSelectingEnd {
		from, to = s.candidate, s.candidate
	}

	weeks := make([][]Cell, 0, gridCells/7)
	for week := 0; week < gridCells/7; week++ {
		row := make([]Cell, 0, 7)
		for weekday := 0; weekday < 7; weekday++ {
			inMonth := sameMonth(cursor, s.month)
			cell := Cell{
				Date:    cursor.Format(domain.DateLayout),
				Day:     cursor.Day(),
				InMonth: inMonth,
			}
			if inMonth {
				cell.IsStart = cursor.Equal(from)
				cell.IsEnd = cursor.Equal(to)
				cell.InRange = !cursor.Before(from) && !cursor.After(to)
			}
			row = append(row, cell)
			cursor = cursor.AddDate(0, 0, 1)
		}
		weeks = append(weeks, row)
	}
	return weeks
}

func (s *Selector) rangeLocked() domain.DateRange {
	return domain.DateRange{
		Start: s.start.Format(domain.DateLayout),
		End:   s.end.Format(domain.DateLayout),
	}
}

func ParseDate(raw string) (time.Time, error) {
	parsed, err := time.Parse(domain.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return parsed.UTC(), nil
}

// Normalize validates both ends and puts them in order.
func Normalize(r domain.DateRange) (domain.DateRange, error) {
	start, err := ParseDate(r.Start)
	if err != nil {
		return domain.DateRange{}, err
	}
	end, err := ParseDate(r.End)
	if err != nil {
		return domain.DateRange{}, err
	}
	if end.Before(start) {
		start, end = end, start
	}
	return domain.DateRange{Start: start.Format(domain.DateLayout), End: end.Format(domain.DateLayout)}, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func sameMonth(a time.Time, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
