package meals

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidAnalysis indicates that an analysis submission is unusable.
var ErrInvalidAnalysis = errors.New("meals: invalid analysis")

// AnalysisRecord is one AI-derived nutrition estimate for a photographed meal.
type AnalysisRecord struct {
	ID               string
	FoodName         string
	Nutrition        NutritionFacts
	Fiber            float64
	Confidence       float64
	SlotID           *SlotID
	CreatedAtSeconds int64
}

// AnalysisInput describes a submitted analysis before it is assigned an
// identifier and deduplicated.
type AnalysisInput struct {
	FoodName   string
	Nutrition  NutritionFacts
	Fiber      float64
	Confidence float64
	SlotID     *SlotID
}

// RecordAnalysis persists an analysis estimate. Re-submitting an identical
// payload for the same user is reported as a duplicate of the stored row, not
// a new record. Remote persistence is attempted once and never blocks: on
// failure the locally stored record with its generated identifier stands as
// the interim source of truth.
func (s *Service) RecordAnalysis(ctx context.Context, userID UserID, input AnalysisInput) (AnalysisRecord, bool, error) {
	if input.FoodName == "" {
		return AnalysisRecord{}, false, newServiceError(opRecordAnalysis, "missing_food_name", fmt.Errorf("%w: empty food name", ErrInvalidAnalysis))
	}

	payloadHash, hashErr := hashAnalysisPayload(input)
	if hashErr != nil {
		s.logError(opRecordAnalysis, "payload_hash_failed", hashErr, zap.String(fieldUserID, userID.String()))
		return AnalysisRecord{}, false, newServiceError(opRecordAnalysis, "payload_hash_failed", hashErr)
	}

	analysisID, idErr := s.idProvider.NewID()
	if idErr != nil {
		s.logError(opRecordAnalysis, "id_generation_failed", idErr, zap.String(fieldUserID, userID.String()))
		return AnalysisRecord{}, false, newServiceError(opRecordAnalysis, "id_generation_failed", idErr)
	}

	row := AnalysisRow{
		AnalysisID:       analysisID,
		UserID:           userID.String(),
		PayloadHash:      payloadHash,
		FoodName:         input.FoodName,
		Calories:         input.Nutrition.Calories,
		Protein:          input.Nutrition.Protein,
		Carbs:            input.Nutrition.Carbs,
		Fat:              input.Nutrition.Fat,
		Fiber:            input.Fiber,
		Confidence:       input.Confidence,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if input.SlotID != nil {
		slotID := input.SlotID.Int64()
		row.SlotID = &slotID
	}

	createResult := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if createResult.Error != nil {
		s.logError(opRecordAnalysis, "analysis_insert_failed", createResult.Error, zap.String(fieldUserID, userID.String()))
		return AnalysisRecord{}, false, newServiceError(opRecordAnalysis, "analysis_insert_failed", createResult.Error)
	}

	duplicate := createResult.RowsAffected == 0
	if duplicate {
		var existing AnalysisRow
		lookupErr := s.db.WithContext(ctx).
			Where("user_id = ? AND payload_hash = ?", userID.String(), payloadHash).
			Take(&existing).Error
		if lookupErr != nil {
			s.logError(opRecordAnalysis, "analysis_lookup_failed", lookupErr, zap.String(fieldUserID, userID.String()))
			return AnalysisRecord{}, false, newServiceError(opRecordAnalysis, "analysis_lookup_failed", lookupErr)
		}
		row = existing
	}

	record := analysisRowToRecord(row)
	if !duplicate && s.remote != nil {
		if remoteErr := s.remote.UpsertAnalysis(ctx, userID.String(), record); remoteErr != nil {
			s.loggerOrDefault().Warn("remote analysis sync failed, keeping local record",
				zap.String(fieldUserID, userID.String()),
				zap.String("analysis_id", record.ID),
				zap.Error(remoteErr))
		}
	}
	return record, duplicate, nil
}

// ListAnalyses returns every stored analysis for the user, newest first.
func (s *Service) ListAnalyses(ctx context.Context, userID UserID) ([]AnalysisRecord, error) {
	var rows []AnalysisRow
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at_s DESC").
		Find(&rows).Error; err != nil {
		s.logError(opListAnalyses, reasonQueryFailed, err, zap.String(fieldUserID, userID.String()))
		return nil, newServiceError(opListAnalyses, reasonQueryFailed, err)
	}

	records := make([]AnalysisRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, analysisRowToRecord(row))
	}
	return records, nil
}

// latestAnalysisForSlot finds the most recent analysis linked to a slot. The
// lookup is best effort: a query failure degrades to "no analysis", leaving
// the slot's own snapshot as the calorie source.
func (s *Service) latestAnalysisForSlot(ctx context.Context, userID UserID, slotID SlotID) *AnalysisRecord {
	var row AnalysisRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND slot_id = ?", userID.String(), slotID.Int64()).
		Order("created_at_s DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		s.logError(opConfirm, "analysis_lookup_failed", err,
			zap.String(fieldUserID, userID.String()),
			zap.Int64(fieldSlotID, slotID.Int64()))
		return nil
	}
	record := analysisRowToRecord(row)
	return &record
}

func analysisRowToRecord(row AnalysisRow) AnalysisRecord {
	record := AnalysisRecord{
		ID:       row.AnalysisID,
		FoodName: row.FoodName,
		Nutrition: NutritionFacts{
			Calories: row.Calories,
			Protein:  row.Protein,
			Carbs:    row.Carbs,
			Fat:      row.Fat,
		},
		Fiber:            row.Fiber,
		Confidence:       row.Confidence,
		CreatedAtSeconds: row.CreatedAtSeconds,
	}
	if row.SlotID != nil {
		slotID := SlotID(*row.SlotID)
		record.SlotID = &slotID
	}
	return record
}

func hashAnalysisPayload(input AnalysisInput) (string, error) {
	canonical := struct {
		FoodName   string         `json:"foodName"`
		Nutrition  NutritionFacts `json:"nutrition"`
		Fiber      float64        `json:"fiber"`
		Confidence float64        `json:"confidence"`
		SlotID     *SlotID        `json:"slotId"`
	}{
		FoodName:   input.FoodName,
		Nutrition:  input.Nutrition,
		Fiber:      input.Fiber,
		Confidence: input.Confidence,
		SlotID:     input.SlotID,
	}
	encoded, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}
