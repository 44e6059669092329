package server

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"scouter/internal/analysis"
	"scouter/internal/export"
	"scouter/internal/geo"
	"scouter/internal/model"
)

func (s *Server) createArea(c *gin.Context) {
	var req areaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	area, err := buildArea(req)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	ctx := c.Request.Context()
	leads, err := s.store.ListGeotaggedLeads(ctx)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}

	owner := req.Owner
	if owner == "" {
		owner = DefaultOwner
	}
	stored := area.ToModel(owner, req.Name)
	if err := s.store.CreateArea(ctx, &stored); err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}

	matched := geo.Select(area, leads).Matched
	s.log.Info("area created", "area_id", stored.ID, "kind", stored.Kind, "leads", len(matched))
	c.JSON(http.StatusCreated, gin.H{
		"area":    areaView(stored),
		"summary": analysis.Generate(matched),
		"leads":   s.leadViews(matched),
	})
}

func buildArea(req areaRequest) (geo.Area, error) {
	id := model.NewAreaID()
	switch req.Kind {
	case model.AreaRectangle:
		if req.Bounds == nil {
			return geo.Area{}, errors.New("rectangle needs bounds")
		}
		b := *req.Bounds
		if !finite(b.South, b.West, b.North, b.East) || b.South >= b.North || b.West >= b.East {
			return geo.Area{}, errors.New("bounds must have south < north and west < east")
		}
		return geo.NewRectangle(id, b), nil
	case model.AreaPolygon, "":
		area := geo.NewArea(id, req.Vertices)
		if !area.Valid() {
			return geo.Area{}, geo.ErrTooFewVertices
		}
		return area, nil
	default:
		return geo.Area{}, fmt.Errorf("unknown area kind %q", req.Kind)
	}
}

func (s *Server) listAreas(c *gin.Context) {
	owner := c.DefaultQuery("owner", DefaultOwner)
	areas, err := s.store.ListAreas(c.Request.Context(), owner)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	out := make([]areaJSON, 0, len(areas))
	for _, a := range areas {
		out = append(out, areaView(a))
	}
	c.JSON(http.StatusOK, gin.H{"areas": out})
}

func (s *Server) getArea(c *gin.Context) {
	area, matched, ok := s.selection(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"area":    areaView(*area),
		"summary": analysis.Generate(matched),
		"leads":   s.leadViews(matched),
	})
}

func (s *Server) deleteArea(c *gin.Context) {
	if err := s.store.DeleteArea(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, lookupStatus(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) areaLeadsCSV(c *gin.Context) {
	area, matched, ok := s.selection(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.WriteLeadsCSV(&buf, matched); err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	s.csv(c, "area-"+area.ID+"-leads.csv", buf.Bytes())
}

func (s *Server) areaSummaryCSV(c *gin.Context) {
	area, matched, ok := s.selection(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.WriteSummaryCSV(&buf, analysis.Generate(matched)); err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	s.csv(c, "area-"+area.ID+"-summary.csv", buf.Bytes())
}

func (s *Server) preview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	leads, err := s.store.ListGeotaggedLeads(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}

	p := geo.LivePreview(leads, req.Vertices, s.opts.LiveLimit)
	ids := make([]string, 0, len(p.Candidates))
	for _, l := range p.Candidates {
		ids = append(ids, l.ID)
	}
	heat := p.Heat
	if heat == nil {
		heat = []geo.HeatPoint{}
	}
	c.JSON(http.StatusOK, previewJSON{
		Vertices: p.Vertices,
		Bounds:   p.Bounds,
		Exact:    p.Exact,
		Count:    len(p.Candidates),
		LeadIDs:  ids,
		Heat:     heat,
	})
}

// selection loads the area named in the path and the leads inside it.
func (s *Server) selection(c *gin.Context) (*model.Area, []model.Lead, bool) {
	ctx := c.Request.Context()
	area, err := s.store.GetArea(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, lookupStatus(err), err)
		return nil, nil, false
	}
	leads, err := s.store.ListGeotaggedLeads(ctx)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return nil, nil, false
	}
	return area, geo.Select(geo.FromModel(*area), leads).Matched, true
}

func (s *Server) csv(c *gin.Context, filename string, data []byte) {
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
