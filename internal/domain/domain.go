package domain

// Item is one tracked order ("colis") moving through a pipeline's stages.
// PipelineID is fixed at creation; only Stage changes afterwards.
type Item struct {
	ID          string  `json:"id"`
	ClientName  string  `json:"client_name"`
	Tel         string  `json:"tel,omitempty"`
	ProductID   string  `json:"product_id,omitempty"`
	Prix        float64 `json:"prix"`
	PipelineID  int64   `json:"pipeline_id"`
	Stage       string  `json:"stage"`
	Employee    string  `json:"employee"`
	Commentaire string  `json:"commentaire,omitempty"`
	NbPiece     int     `json:"nb_piece"`
	Ville       string  `json:"ville,omitempty"`
	Quartier    string  `json:"quartier,omitempty"`
	DateCreated string  `json:"date_created" format:"date-time"`
	DateReport  *string `json:"date_report,omitempty" format:"date-time"`
}

// Pipeline is a named, ordered set of stages for one delivery workflow.
type Pipeline struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Color     string  `json:"color,omitempty"`
	IsDefault bool    `json:"is_default"`
	Stages    []Stage `json:"stages,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// Stage is one step of a pipeline. ID doubles as the display label and as the
// value written into Item.Stage. Status carries the pipeline-independent
// classification used for reporting. Locked stages cannot be renamed or
// deleted through the editor.
type Stage struct {
	ID         string `json:"id"`
	PipelineID int64  `json:"pipeline_id"`
	Color      string `json:"color,omitempty"`
	Status     string `json:"status" enum:"pending,confirmed,postponed,packaging,shipped,delivered,cancelled,returned"`
	Active     bool   `json:"active"`
	Locked     bool   `json:"locked"`
	Position   int    `json:"position"`
}

type Product struct {
	ID          string  `json:"id"`
	Nom         string  `json:"nom"`
	PrixVente   float64 `json:"prix_vente"`
	Image       string  `json:"image,omitempty"`
	Stock       int     `json:"stock"`
	AlerteStock int     `json:"alerte_stock"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string   `json:"id"`
	ActorID   string   `json:"actor_id"`
	Name      string   `json:"name,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	KeyHash   string   `json:"key_hash"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}
