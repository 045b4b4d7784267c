package layercake

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PlanStore owns Plan, PlanDagNode and PlanDagEdge CRUD. A Plan DAG node
// cascades its incident edges on delete (§3.2).
type PlanStore struct {
	db *sql.DB
}

func NewPlanStore(db *sql.DB) *PlanStore {
	return &PlanStore{db: db}
}

const queryInsertPlan = `
	INSERT INTO plans (project_id, name, yaml_content, status, dependencies)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, created_at, updated_at`

const queryGetPlan = `
	SELECT id, project_id, name, yaml_content, status, dependencies, created_at, updated_at
	FROM plans WHERE id = $1`

const queryListPlansForProject = `
	SELECT id, project_id, name, yaml_content, status, dependencies, created_at, updated_at
	FROM plans WHERE project_id = $1 ORDER BY created_at`

const queryUpdatePlan = `
	UPDATE plans SET name = $2, yaml_content = $3, status = $4, dependencies = $5, updated_at = NOW()
	WHERE id = $1`

const queryDeletePlan = `DELETE FROM plans WHERE id = $1`

const queryListDagNodes = `
	SELECT id, plan_id, node_type, position_x, position_y, metadata, config, created_at, updated_at
	FROM plan_dag_nodes WHERE plan_id = $1 ORDER BY id`

const queryListDagEdges = `
	SELECT id, plan_id, source_node_id, target_node_id, metadata
	FROM plan_dag_edges WHERE plan_id = $1 ORDER BY id`

const queryUpsertDagNode = `
	INSERT INTO plan_dag_nodes (id, plan_id, node_type, position_x, position_y, metadata, config)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		node_type = EXCLUDED.node_type,
		position_x = EXCLUDED.position_x,
		position_y = EXCLUDED.position_y,
		metadata = EXCLUDED.metadata,
		config = EXCLUDED.config,
		updated_at = NOW()`

const queryDeleteDagNode = `DELETE FROM plan_dag_nodes WHERE id = $1 AND plan_id = $2`

const queryDeleteDagEdgesForNode = `
	DELETE FROM plan_dag_edges WHERE plan_id = $1 AND (source_node_id = $2 OR target_node_id = $2)`

const queryInsertDagEdge = `
	INSERT INTO plan_dag_edges (id, plan_id, source_node_id, target_node_id, metadata)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		source_node_id = EXCLUDED.source_node_id,
		target_node_id = EXCLUDED.target_node_id,
		metadata = EXCLUDED.metadata`

const queryDeleteDagEdge = `DELETE FROM plan_dag_edges WHERE id = $1 AND plan_id = $2`

// CreatePlan inserts a new Plan.
func (p *PlanStore) CreatePlan(ctx context.Context, plan *Plan) error {
	row := p.db.QueryRowContext(ctx, queryInsertPlan, plan.ProjectID, plan.Name, plan.YAMLContent, plan.Status, plan.Dependencies)
	if err := row.Scan(&plan.ID, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

// GetPlan loads a Plan by id.
func (p *PlanStore) GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error) {
	row := p.db.QueryRowContext(ctx, queryGetPlan, id)
	plan, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, newNotFoundError("plan", id.String())
	}
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// ListPlans returns every Plan belonging to a project.
func (p *PlanStore) ListPlans(ctx context.Context, projectID uuid.UUID) ([]*Plan, error) {
	rows, err := p.db.QueryContext(ctx, queryListPlansForProject, projectID)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// UpdatePlan overwrites a Plan's mutable fields.
func (p *PlanStore) UpdatePlan(ctx context.Context, plan *Plan) error {
	res, err := p.db.ExecContext(ctx, queryUpdatePlan, plan.ID, plan.Name, plan.YAMLContent, plan.Status, plan.Dependencies)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return requireRowsAffected(res, "plan", plan.ID.String())
}

// DeletePlan removes a Plan, cascading its DAG nodes/edges via FK.
func (p *PlanStore) DeletePlan(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, queryDeletePlan, id)
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	return requireRowsAffected(res, "plan", id.String())
}

// LoadDAG loads every PlanDagNode/PlanDagEdge for a plan and builds a DAG.
func (p *PlanStore) LoadDAG(ctx context.Context, planID uuid.UUID) (*DAG, []*PlanDagNode, []*PlanDagEdge, error) {
	nodes, err := p.listDagNodes(ctx, planID)
	if err != nil {
		return nil, nil, nil, err
	}
	edges, err := p.listDagEdges(ctx, planID)
	if err != nil {
		return nil, nil, nil, err
	}
	return BuildDAG(nodes, edges), nodes, edges, nil
}

func (p *PlanStore) listDagNodes(ctx context.Context, planID uuid.UUID) ([]*PlanDagNode, error) {
	rows, err := p.db.QueryContext(ctx, queryListDagNodes, planID)
	if err != nil {
		return nil, fmt.Errorf("list dag nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*PlanDagNode
	for rows.Next() {
		var n PlanDagNode
		if err := rows.Scan(&n.ID, &n.PlanID, &n.NodeType, &n.Position.X, &n.Position.Y, &n.Metadata, &n.Config, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		nodes = append(nodes, &n)
	}
	return nodes, rows.Err()
}

func (p *PlanStore) listDagEdges(ctx context.Context, planID uuid.UUID) ([]*PlanDagEdge, error) {
	rows, err := p.db.QueryContext(ctx, queryListDagEdges, planID)
	if err != nil {
		return nil, fmt.Errorf("list dag edges: %w", err)
	}
	defer rows.Close()

	var edges []*PlanDagEdge
	for rows.Next() {
		var e PlanDagEdge
		if err := rows.Scan(&e.ID, &e.PlanID, &e.SourceNodeID, &e.TargetNodeID, &e.Metadata); err != nil {
			return nil, err
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// UpsertNode creates or replaces a Plan DAG node (create_node/update_node/
// move_node share one statement since all three are idempotent writes of
// the full row).
func (p *PlanStore) UpsertNode(ctx context.Context, n *PlanDagNode) error {
	_, err := p.db.ExecContext(ctx, queryUpsertDagNode, n.ID, n.PlanID, n.NodeType, n.Position.X, n.Position.Y, n.Metadata, n.Config)
	if err != nil {
		return fmt.Errorf("upsert dag node %s: %w", n.ID, err)
	}
	return nil
}

// DeleteNode removes a node and every edge incident to it.
func (p *PlanStore) DeleteNode(ctx context.Context, planID uuid.UUID, nodeID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete node tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, queryDeleteDagEdgesForNode, planID, nodeID); err != nil {
		return fmt.Errorf("delete incident edges: %w", err)
	}
	res, err := tx.ExecContext(ctx, queryDeleteDagNode, nodeID, planID)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	if err := requireRowsAffected(res, "plan_dag_node", nodeID); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertEdge creates or replaces a Plan DAG edge. Callers must validate
// acyclicity (via DAG.DetectCycle) and the no-multi-edge invariant before
// calling this, since the store has no way to enforce either generically.
func (p *PlanStore) UpsertEdge(ctx context.Context, e *PlanDagEdge) error {
	_, err := p.db.ExecContext(ctx, queryInsertDagEdge, e.ID, e.PlanID, e.SourceNodeID, e.TargetNodeID, e.Metadata)
	if err != nil {
		return fmt.Errorf("upsert dag edge %s: %w", e.ID, err)
	}
	return nil
}

// DeleteEdge removes a single Plan DAG edge.
func (p *PlanStore) DeleteEdge(ctx context.Context, planID uuid.UUID, edgeID string) error {
	res, err := p.db.ExecContext(ctx, queryDeleteDagEdge, edgeID, planID)
	if err != nil {
		return fmt.Errorf("delete dag edge: %w", err)
	}
	return requireRowsAffected(res, "plan_dag_edge", edgeID)
}

func scanPlan(scanner interface{ Scan(dest ...any) error }) (*Plan, error) {
	var plan Plan
	if err := scanner.Scan(&plan.ID, &plan.ProjectID, &plan.Name, &plan.YAMLContent, &plan.Status, &plan.Dependencies, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
		return nil, err
	}
	return &plan, nil
}
