package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"medos.dev/biovault/internal/store"
)

var (
	ErrNotSignedIn      = errors.New("not signed in")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrMedicationAbsent = errors.New("medication not found")
)

const (
	DefaultProfileID  = "default_bio_hacker"
	defaultCountry    = "India"
	defaultAge        = 20
	defaultLongevity  = 50
	medicationDosage  = "As prescribed"
	medicationFreq    = "Daily"
	medicationTime    = "09:00"
	discoveredGender  = "Discovered"
	signInProfileName = "Google User"
)

// ProfileService owns session, profile, medication and scan bookkeeping.
// All state lives in the record store; the mutex only serializes mutating
// flows issued inside this process.
type ProfileService struct {
	store *store.RecordStore
	log   *zap.Logger
	mu    sync.Mutex
	now   func() time.Time
	newID func(prefix string) string
}

func NewProfileService(rs *store.RecordStore, logger *zap.Logger) *ProfileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileService{
		store: rs,
		log:   logger,
		now:   time.Now,
		newID: func(prefix string) string { return prefix + uuid.NewString() },
	}
}

func defaultProfile() store.Profile {
	return store.Profile{
		ID:         DefaultProfileID,
		Name:       "Bio Hacker",
		Age:        defaultAge,
		Gender:     "Neutral",
		Country:    defaultCountry,
		Conditions: []string{"Optimization Protocol"},
		Role:       store.RolePatient,
		IsPrimary:  true,
		History:    []store.HistoryRecord{},
	}
}

// Bootstrap resolves the session at startup. A store with neither a session
// nor profiles gets the default profile and a session pointing to it, and
// created reports that. A session whose profile is gone, or profiles without
// a session, mean logged out.
func (s *ProfileService) Bootstrap(ctx context.Context) (st State, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, hadSession, err := s.store.GetByKey(ctx, store.CollectionSession, store.CurrentSessionID)
	if err != nil {
		return State{}, false, fmt.Errorf("failed to read session: %w", err)
	}
	active, err := s.activeProfile(ctx)
	if err != nil && !errors.Is(err, ErrNotSignedIn) {
		return State{}, false, err
	}
	if active != nil || hadSession {
		st, err = s.state(ctx, active)
		return st, false, err
	}

	profiles, err := store.List[store.Profile](ctx, s.store, store.CollectionProfiles)
	if err != nil {
		return State{}, false, fmt.Errorf("failed to list profiles: %w", err)
	}
	if len(profiles) > 0 {
		st, err = s.state(ctx, nil)
		return st, false, err
	}

	p := defaultProfile()
	if err := store.Put(ctx, s.store, store.CollectionProfiles, p); err != nil {
		return State{}, false, fmt.Errorf("failed to create default profile: %w", err)
	}
	if err := s.setSession(ctx, p.ID); err != nil {
		return State{}, false, err
	}
	s.log.Info("created default profile", zap.String("profile_id", p.ID))
	st, err = s.state(ctx, &p)
	return st, err == nil, err
}

// ActiveState returns the current state without creating anything.
func (s *ProfileService) ActiveState(ctx context.Context) (State, error) {
	active, err := s.activeProfile(ctx)
	if err != nil && !errors.Is(err, ErrNotSignedIn) {
		return State{}, err
	}
	return s.state(ctx, active)
}

// ActiveProfile returns the signed-in profile or ErrNotSignedIn.
func (s *ProfileService) ActiveProfile(ctx context.Context) (store.Profile, error) {
	p, err := s.activeProfile(ctx)
	if err != nil {
		return store.Profile{}, err
	}
	return *p, nil
}

// activeProfile follows the session. A session whose profile is gone is
// discarded and reported as ErrNotSignedIn.
func (s *ProfileService) activeProfile(ctx context.Context) (*store.Profile, error) {
	sess, ok, err := store.Get[store.Session](ctx, s.store, store.CollectionSession, store.CurrentSessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !ok || sess.ProfileID == "" {
		return nil, ErrNotSignedIn
	}
	p, ok, err := store.Get[store.Profile](ctx, s.store, store.CollectionProfiles, sess.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", sess.ProfileID, err)
	}
	if !ok {
		s.log.Warn("session references missing profile, signing out",
			zap.String("profile_id", sess.ProfileID))
		if err := s.store.DeleteByKey(ctx, store.CollectionSession, store.CurrentSessionID); err != nil {
			return nil, err
		}
		return nil, ErrNotSignedIn
	}
	return &p, nil
}

func (s *ProfileService) state(ctx context.Context, active *store.Profile) (State, error) {
	profiles, err := store.List[store.Profile](ctx, s.store, store.CollectionProfiles)
	if err != nil {
		return State{}, fmt.Errorf("failed to list profiles: %w", err)
	}
	meds, err := store.List[store.Medication](ctx, s.store, store.CollectionMedications)
	if err != nil {
		return State{}, fmt.Errorf("failed to list medications: %w", err)
	}
	return State{Active: active, Profiles: profiles, Medications: meds}, nil
}

func (s *ProfileService) setSession(ctx context.Context, profileID string) error {
	sess := store.Session{ID: store.CurrentSessionID, ProfileID: profileID}
	if err := store.Put(ctx, s.store, store.CollectionSession, sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// SignIn links an external identity to a profile and activates it.
// created is true when a new profile had to be made.
func (s *ProfileService) SignIn(ctx context.Context, email string) (profile store.Profile, created bool, err error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return store.Profile{}, false, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok, err := store.Get[store.User](ctx, s.store, store.CollectionUsers, email)
	if err != nil {
		return store.Profile{}, false, fmt.Errorf("failed to read user: %w", err)
	}
	if ok {
		p, found, err := store.Get[store.Profile](ctx, s.store, store.CollectionProfiles, user.ProfileID)
		if err != nil {
			return store.Profile{}, false, fmt.Errorf("failed to read profile: %w", err)
		}
		if found {
			if err := s.setSession(ctx, p.ID); err != nil {
				return store.Profile{}, false, err
			}
			return p, false, nil
		}
		s.log.Warn("user profile missing, creating a new one", zap.String("email", email))
	}

	p := store.Profile{
		ID:         s.newID("profile_"),
		Name:       signInProfileName,
		Age:        defaultAge,
		Gender:     "Not specified",
		Country:    defaultCountry,
		Conditions: []string{},
		Role:       store.RolePatient,
		IsPrimary:  true,
		History:    []store.HistoryRecord{},
	}
	if err := store.Put(ctx, s.store, store.CollectionProfiles, p); err != nil {
		return store.Profile{}, false, fmt.Errorf("failed to create profile: %w", err)
	}
	if err := store.Put(ctx, s.store, store.CollectionUsers, store.User{Email: email, ProfileID: p.ID}); err != nil {
		return store.Profile{}, false, fmt.Errorf("failed to link user: %w", err)
	}
	if err := s.setSession(ctx, p.ID); err != nil {
		return store.Profile{}, false, err
	}
	return p, true, nil
}

func (s *ProfileService) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signOut(ctx)
}

func (s *ProfileService) signOut(ctx context.Context) error {
	if err := s.store.DeleteByKey(ctx, store.CollectionSession, store.CurrentSessionID); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// AddProfile persists a profile and returns the refreshed list. The session is untouched.
func (s *ProfileService) AddProfile(ctx context.Context, p store.Profile) ([]store.Profile, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("%w: profile name is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.addProfile(ctx, &p); err != nil {
		return nil, err
	}
	return store.List[store.Profile](ctx, s.store, store.CollectionProfiles)
}

func (s *ProfileService) addProfile(ctx context.Context, p *store.Profile) error {
	if p.ID == "" {
		p.ID = s.newID("profile_")
	}
	if p.Role == "" {
		p.Role = store.RolePatient
	}
	if p.Conditions == nil {
		p.Conditions = []string{}
	}
	if p.History == nil {
		p.History = []store.HistoryRecord{}
	}
	if err := store.Put(ctx, s.store, store.CollectionProfiles, *p); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// SwitchProfile points the session at another existing profile.
func (s *ProfileService) SwitchProfile(ctx context.Context, id string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok, err := store.Get[store.Profile](ctx, s.store, store.CollectionProfiles, id)
	if err != nil {
		return State{}, fmt.Errorf("failed to read profile: %w", err)
	}
	if !ok {
		return State{}, ErrProfileNotFound
	}
	if err := s.setSession(ctx, p.ID); err != nil {
		return State{}, err
	}
	return s.state(ctx, &p)
}

// DeleteProfile removes a profile. Deleting the active one promotes the
// primary profile, else the first remaining, else signs out.
func (s *ProfileService) DeleteProfile(ctx context.Context, id string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, hasSession, err := store.Get[store.Session](ctx, s.store, store.CollectionSession, store.CurrentSessionID)
	if err != nil {
		return State{}, fmt.Errorf("failed to read session: %w", err)
	}
	if err := s.store.DeleteByKey(ctx, store.CollectionProfiles, id); err != nil {
		return State{}, fmt.Errorf("failed to delete profile: %w", err)
	}

	if hasSession && sess.ProfileID == id {
		remaining, err := store.List[store.Profile](ctx, s.store, store.CollectionProfiles)
		if err != nil {
			return State{}, fmt.Errorf("failed to list profiles: %w", err)
		}
		if len(remaining) == 0 {
			if err := s.signOut(ctx); err != nil {
				return State{}, err
			}
			return s.state(ctx, nil)
		}
		next := remaining[0]
		for _, p := range remaining {
			if p.IsPrimary {
				next = p
				break
			}
		}
		if err := s.setSession(ctx, next.ID); err != nil {
			return State{}, err
		}
		return s.state(ctx, &next)
	}

	active, err := s.activeProfile(ctx)
	if err != nil && !errors.Is(err, ErrNotSignedIn) {
		return State{}, err
	}
	return s.state(ctx, active)
}

// ListScans returns a profile's scans, newest first.
func (s *ProfileService) ListScans(ctx context.Context, profileID string) ([]store.Record, error) {
	all, err := s.store.ListAll(ctx, store.CollectionScans)
	if err != nil {
		return nil, err
	}
	scans := make([]store.Record, 0, len(all))
	for _, rec := range all {
		if pid, _ := rec["profileId"].(string); pid == profileID {
			scans = append(scans, rec)
		}
	}
	sort.SliceStable(scans, func(i, j int) bool {
		return scanTime(scans[i]).After(scanTime(scans[j]))
	})
	return scans, nil
}

func scanTime(rec store.Record) time.Time {
	t, _ := rec["timestamp"].(time.Time)
	return t
}

func (s *ProfileService) ListMedications(ctx context.Context) ([]store.Medication, error) {
	return store.List[store.Medication](ctx, s.store, store.CollectionMedications)
}

// AddMedication stores a manually entered medication.
func (s *ProfileService) AddMedication(ctx context.Context, m store.Medication) (store.Medication, error) {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return store.Medication{}, fmt.Errorf("%w: medication name is required", ErrInvalidInput)
	}
	if m.ID == "" {
		m.ID = s.newID("med_")
	}
	if m.Dosage == "" {
		m.Dosage = medicationDosage
	}
	if m.Frequency == "" {
		m.Frequency = medicationFreq
	}
	if m.Time == "" {
		m.Time = medicationTime
	}
	if err := store.Put(ctx, s.store, store.CollectionMedications, m); err != nil {
		return store.Medication{}, fmt.Errorf("failed to save medication: %w", err)
	}
	return m, nil
}

func (s *ProfileService) DeleteMedication(ctx context.Context, id string) error {
	return s.store.DeleteByKey(ctx, store.CollectionMedications, id)
}

// MarkMedicationTaken stamps lastTaken with the current time.
func (s *ProfileService) MarkMedicationTaken(ctx context.Context, id string) (store.Medication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok, err := store.Get[store.Medication](ctx, s.store, store.CollectionMedications, id)
	if err != nil {
		return store.Medication{}, fmt.Errorf("failed to read medication: %w", err)
	}
	if !ok {
		return store.Medication{}, ErrMedicationAbsent
	}
	m.LastTaken = s.now().UTC().Format(time.RFC3339)
	if err := store.Put(ctx, s.store, store.CollectionMedications, m); err != nil {
		return store.Medication{}, fmt.Errorf("failed to save medication: %w", err)
	}
	return m, nil
}

// SavePolicy persists an analyzed insurance policy.
func (s *ProfileService) SavePolicy(ctx context.Context, a PolicyAnalysis) (store.InsurancePolicy, error) {
	p := store.InsurancePolicy{
		ID:                   s.newID("policy_"),
		Provider:             a.Provider,
		PlanName:             a.PlanName,
		CoverageSummary:      a.CoverageSummary,
		PreventativeBenefits: a.PreventativeBenefits,
		LongevityScore:       defaultLongevity,
	}
	if a.LongevityScore != nil {
		p.LongevityScore = int(math.Round(float64(*a.LongevityScore)))
	}
	if p.PreventativeBenefits == nil {
		p.PreventativeBenefits = []string{}
	}
	if err := store.Put(ctx, s.store, store.CollectionInsurancePolicies, p); err != nil {
		return store.InsurancePolicy{}, fmt.Errorf("failed to save policy: %w", err)
	}
	return p, nil
}

// LatestPolicy returns the policy used as context for report audits.
func (s *ProfileService) LatestPolicy(ctx context.Context) (*store.InsurancePolicy, error) {
	policies, err := store.List[store.InsurancePolicy](ctx, s.store, store.CollectionInsurancePolicies)
	if err != nil {
		return nil, err
	}
	if len(policies) == 0 {
		return nil, nil
	}
	return &policies[0], nil
}

// Export snapshots the active profile and the medication list.
func (s *ProfileService) Export(ctx context.Context) (ExportDocument, error) {
	p, err := s.activeProfile(ctx)
	if err != nil {
		return ExportDocument{}, err
	}
	meds, err := s.ListMedications(ctx)
	if err != nil {
		return ExportDocument{}, err
	}
	return ExportDocument{Profile: *p, Medications: meds, ExportedAt: s.now().UTC()}, nil
}

func (s *ProfileService) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	for collection, dst := range map[string]*int{
		store.CollectionProfiles:    &st.Profiles,
		store.CollectionMedications: &st.Medications,
		store.CollectionScans:       &st.Scans,
	} {
		recs, err := s.store.ListAll(ctx, collection)
		if err != nil {
			return Stats{}, err
		}
		*dst = len(recs)
	}
	return st, nil
}
