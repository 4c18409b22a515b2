package server

import (
	"encoding/json"

	"stageboard/internal/config"
	"stageboard/internal/domain"
	"stageboard/internal/engine"
)

// Request payloads

type CreateItemRequest struct {
	ID          *string `json:"id,omitempty"`
	ClientName  string  `json:"client_name"`
	Tel         *string `json:"tel,omitempty"`
	ProductID   *string `json:"product_id,omitempty"`
	Prix        *string `json:"prix,omitempty"`
	Stage       *string `json:"stage,omitempty"`
	Employee    *string `json:"employee,omitempty"`
	Commentaire *string `json:"commentaire,omitempty"`
	NbPiece     *int    `json:"nb_piece,omitempty"`
	Ville       *string `json:"ville,omitempty"`
	Quartier    *string `json:"quartier,omitempty"`
	DateReport  *string `json:"date_report,omitempty" format:"date-time"`
}

type UpdateItemRequest struct {
	ClientName  *string `json:"client_name,omitempty"`
	Tel         *string `json:"tel,omitempty"`
	ProductID   *string `json:"product_id,omitempty"`
	Prix        *string `json:"prix,omitempty"`
	Employee    *string `json:"employee,omitempty"`
	Commentaire *string `json:"commentaire,omitempty"`
	NbPiece     *int    `json:"nb_piece,omitempty"`
	Ville       *string `json:"ville,omitempty"`
	Quartier    *string `json:"quartier,omitempty"`
	DateReport  *string `json:"date_report,omitempty" format:"date-time"`
}

type MoveItemRequest struct {
	Stage      string  `json:"stage"`
	DateReport *string `json:"date_report,omitempty" format:"date-time"`
}

type StageRequest struct {
	ID     string  `json:"id"`
	Color  *string `json:"color,omitempty"`
	Status *string `json:"status,omitempty" enum:"pending,confirmed,delivered,cancelled,postponed,packaging,shipped,returned"`
	Locked *bool   `json:"locked,omitempty"`
}

type CreatePipelineRequest struct {
	Name      string         `json:"name"`
	Color     *string        `json:"color,omitempty"`
	IsDefault *bool          `json:"is_default,omitempty"`
	Stages    []StageRequest `json:"stages,omitempty"`
}

type UpdatePipelineRequest struct {
	Name      *string `json:"name,omitempty"`
	Color     *string `json:"color,omitempty"`
	IsDefault *bool   `json:"is_default,omitempty"`
}

type UpdateStageRequest struct {
	Color  *string `json:"color,omitempty"`
	Status *string `json:"status,omitempty" enum:"pending,confirmed,delivered,cancelled,postponed,packaging,shipped,returned"`
	Active *bool   `json:"active,omitempty"`
	Locked *bool   `json:"locked,omitempty"`
}

type RenameStageRequest struct {
	NewID string `json:"new_id"`
}

type ReorderStagesRequest struct {
	Order []string `json:"order"`
}

type ProductRequest struct {
	ID          *string `json:"id,omitempty"`
	Nom         string  `json:"nom"`
	PrixVente   *string `json:"prix_vente,omitempty"`
	Image       *string `json:"image,omitempty"`
	Stock       *int    `json:"stock,omitempty"`
	AlerteStock *int    `json:"alerte_stock,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string   `json:"actor_id"`
	Name    *string  `json:"name,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type ItemResponse struct {
	ID          string  `json:"id"`
	ClientName  string  `json:"client_name"`
	Tel         string  `json:"tel,omitempty"`
	ProductID   string  `json:"product_id,omitempty"`
	Prix        float64 `json:"prix"`
	PipelineID  int64   `json:"pipeline_id"`
	Stage       string  `json:"stage"`
	Employee    string  `json:"employee,omitempty"`
	Commentaire string  `json:"commentaire,omitempty"`
	NbPiece     int     `json:"nb_piece"`
	Ville       string  `json:"ville,omitempty"`
	Quartier    string  `json:"quartier,omitempty"`
	DateCreated string  `json:"date_created" format:"date-time"`
	DateReport  *string `json:"date_report,omitempty" format:"date-time"`
}

type StageResponse struct {
	ID       string `json:"id"`
	Color    string `json:"color,omitempty"`
	Status   string `json:"status"`
	Active   bool   `json:"active"`
	Locked   bool   `json:"locked"`
	Position int    `json:"position"`
}

type PipelineResponse struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Color     string          `json:"color,omitempty"`
	IsDefault bool            `json:"is_default"`
	Stages    []StageResponse `json:"stages"`
	CreatedAt string          `json:"created_at" format:"date-time"`
}

type BucketResponse struct {
	Stage StageResponse  `json:"stage"`
	Items []ItemResponse `json:"items"`
}

type BoardResponse struct {
	Pipeline  PipelineResponse `json:"pipeline"`
	Buckets   []BucketResponse `json:"buckets"`
	Unmatched int              `json:"unmatched"`
}

type MetricsResponse struct {
	Day        string  `json:"day"`
	Visible    int     `json:"visible"`
	TodayCount int     `json:"today_count"`
	Commission float64 `json:"commission"`
}

type ProductResponse struct {
	ID          string  `json:"id"`
	Nom         string  `json:"nom"`
	PrixVente   float64 `json:"prix_vente"`
	Image       string  `json:"image,omitempty"`
	Stock       int     `json:"stock"`
	AlerteStock int     `json:"alerte_stock"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type APIKeyResponse struct {
	ID        string   `json:"id"`
	ActorID   string   `json:"actor_id"`
	Name      string   `json:"name,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	Key       string   `json:"key,omitempty"`
}

type MeResponse struct {
	ActorID      string   `json:"actor_id"`
	Roles        []string `json:"roles,omitempty"`
	Source       string   `json:"source"`
	Unrestricted bool     `json:"unrestricted"`
	Targets      []string `json:"targets,omitempty"`
}

func itemResponse(it domain.Item) ItemResponse {
	return ItemResponse{
		ID:          it.ID,
		ClientName:  it.ClientName,
		Tel:         it.Tel,
		ProductID:   it.ProductID,
		Prix:        it.Prix,
		PipelineID:  it.PipelineID,
		Stage:       it.Stage,
		Employee:    it.Employee,
		Commentaire: it.Commentaire,
		NbPiece:     it.NbPiece,
		Ville:       it.Ville,
		Quartier:    it.Quartier,
		DateCreated: it.DateCreated,
		DateReport:  it.DateReport,
	}
}

func mapItems(items []domain.Item) []ItemResponse {
	out := make([]ItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, itemResponse(it))
	}
	return out
}

func stageResponse(s domain.Stage) StageResponse {
	return StageResponse{
		ID:       s.ID,
		Color:    s.Color,
		Status:   s.Status,
		Active:   s.Active,
		Locked:   s.Locked,
		Position: s.Position,
	}
}

func pipelineResponse(p domain.Pipeline) PipelineResponse {
	stages := make([]StageResponse, 0, len(p.Stages))
	for _, s := range p.Stages {
		stages = append(stages, stageResponse(s))
	}
	return PipelineResponse{
		ID:        p.ID,
		Name:      p.Name,
		Color:     p.Color,
		IsDefault: p.IsDefault,
		Stages:    stages,
		CreatedAt: p.CreatedAt,
	}
}

func mapPipelines(items []domain.Pipeline) []PipelineResponse {
	out := make([]PipelineResponse, 0, len(items))
	for _, p := range items {
		out = append(out, pipelineResponse(p))
	}
	return out
}

func boardResponse(b engine.Board) BoardResponse {
	buckets := make([]BucketResponse, 0, len(b.Buckets))
	for _, bucket := range b.Buckets {
		buckets = append(buckets, BucketResponse{
			Stage: stageResponse(bucket.Stage),
			Items: mapItems(bucket.Items),
		})
	}
	return BoardResponse{
		Pipeline:  pipelineResponse(b.Pipeline),
		Buckets:   buckets,
		Unmatched: b.Unmatched,
	}
}

func metricsResponse(m engine.DailyMetrics) MetricsResponse {
	return MetricsResponse{
		Day:        m.Day,
		Visible:    m.Visible,
		TodayCount: m.TodayCount,
		Commission: m.Commission,
	}
}

func productResponse(p domain.Product) ProductResponse {
	return ProductResponse{
		ID:          p.ID,
		Nom:         p.Nom,
		PrixVente:   p.PrixVente,
		Image:       p.Image,
		Stock:       p.Stock,
		AlerteStock: p.AlerteStock,
		CreatedAt:   p.CreatedAt,
	}
}

func mapProducts(items []domain.Product) []ProductResponse {
	out := make([]ProductResponse, 0, len(items))
	for _, p := range items {
		out = append(out, productResponse(p))
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	var payload map[string]any
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, eventResponse(e))
	}
	return out
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		Roles:     k.Roles,
		CreatedAt: k.CreatedAt,
	}
}

func stageSeed(s StageRequest) config.StageSeed {
	seed := config.StageSeed{ID: s.ID}
	if s.Color != nil {
		seed.Color = *s.Color
	}
	if s.Status != nil {
		seed.Status = *s.Status
	}
	if s.Locked != nil {
		seed.Locked = *s.Locked
	}
	return seed
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
