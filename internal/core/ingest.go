package core

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"medos.dev/biovault/internal/store"
)

// IngestOutcome reports where an analysis landed.
type IngestOutcome struct {
	ProfileID          string             `json:"profileId"`
	CreatedProfile     *store.Profile     `json:"createdProfile,omitempty"`
	Scan               store.Record       `json:"scan"`
	AddedMedications   []store.Medication `json:"addedMedications"`
	SkippedMedications []string           `json:"skippedMedications,omitempty"`
}

// resolveProfile matches a patient name against known profiles, preferring
// an exact case-insensitive match over a substring one.
func resolveProfile(name string, profiles []store.Profile) (store.Profile, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return store.Profile{}, false
	}
	for _, p := range profiles {
		if strings.ToLower(strings.TrimSpace(p.Name)) == needle {
			return p, true
		}
	}
	for _, p := range profiles {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			return p, true
		}
	}
	return store.Profile{}, false
}

// IngestAnalysis files an analysis result under the right profile, records
// the scan and adds any newly seen medications. Writes happen in that order.
// knownProfiles may be nil, in which case the stored profiles are used.
func (s *ProfileService) IngestAnalysis(ctx context.Context, result AnalysisResult, activeProfileID string, knownProfiles []store.Profile) (IngestOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if knownProfiles == nil {
		var err error
		knownProfiles, err = store.List[store.Profile](ctx, s.store, store.CollectionProfiles)
		if err != nil {
			return IngestOutcome{}, fmt.Errorf("failed to list profiles: %w", err)
		}
	}

	out := IngestOutcome{ProfileID: activeProfileID}

	if name := result.PatientName(); name != "" {
		if p, ok := resolveProfile(name, knownProfiles); ok {
			out.ProfileID = p.ID
		} else {
			discovered := s.discoveredProfile(name, result.DeducedCondition(), activeProfileID, knownProfiles)
			if err := s.addProfile(ctx, &discovered); err != nil {
				return IngestOutcome{}, err
			}
			s.log.Info("created profile from analysis",
				zap.String("profile_id", discovered.ID),
				zap.String("patient_name", name))
			out.ProfileID = discovered.ID
			out.CreatedProfile = &discovered
		}
	}

	scan := make(store.Record, len(result)+3)
	for k, v := range result {
		scan[k] = v
	}
	scan["id"] = s.newID("scan_")
	scan["timestamp"] = s.now().UTC()
	scan["profileId"] = out.ProfileID
	if err := s.store.Save(ctx, store.CollectionScans, scan); err != nil {
		return IngestOutcome{}, fmt.Errorf("failed to save scan: %w", err)
	}
	out.Scan = scan

	added, skipped, err := s.ingestMedications(ctx, result.Medications())
	if err != nil {
		return IngestOutcome{}, err
	}
	out.AddedMedications = added
	out.SkippedMedications = skipped
	return out, nil
}

func (s *ProfileService) discoveredProfile(name, condition, activeProfileID string, known []store.Profile) store.Profile {
	country := defaultCountry
	for _, p := range known {
		if p.ID == activeProfileID && p.Country != "" {
			country = p.Country
			break
		}
	}
	conditions := []string{}
	if condition != "" {
		conditions = append(conditions, condition)
	}
	return store.Profile{
		ID:         s.newID("profile_"),
		Name:       name,
		Age:        defaultAge,
		Gender:     discoveredGender,
		Country:    country,
		Conditions: conditions,
		Role:       store.RolePatient,
		IsPrimary:  false,
		History:    []store.HistoryRecord{},
	}
}

// ingestMedications adds extracted medications whose names are not already
// tracked, comparing names case-insensitively against storage and the batch.
func (s *ProfileService) ingestMedications(ctx context.Context, extracted []ExtractedMedication) ([]store.Medication, []string, error) {
	added := []store.Medication{}
	if len(extracted) == 0 {
		return added, nil, nil
	}
	existing, err := store.List[store.Medication](ctx, s.store, store.CollectionMedications)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list medications: %w", err)
	}
	seen := make(map[string]bool, len(existing)+len(extracted))
	for _, m := range existing {
		seen[strings.ToLower(strings.TrimSpace(m.Name))] = true
	}

	var skipped []string
	for _, em := range extracted {
		if em.Name == "" {
			continue
		}
		key := strings.ToLower(em.Name)
		if seen[key] {
			skipped = append(skipped, em.Name)
			continue
		}
		seen[key] = true

		med := store.Medication{
			ID:              s.newID("med_"),
			Name:            em.Name,
			Dosage:          em.Dosage,
			Frequency:       medicationFreq,
			Time:            medicationTime,
			LifestyleCaveat: em.Reasoning,
		}
		if med.Dosage == "" {
			med.Dosage = medicationDosage
		}
		if med.LifestyleCaveat == "" {
			med.LifestyleCaveat = em.Purpose
		}
		if err := store.Put(ctx, s.store, store.CollectionMedications, med); err != nil {
			return nil, nil, fmt.Errorf("failed to save medication %s: %w", med.Name, err)
		}
		added = append(added, med)
	}
	return added, skipped, nil
}
