package http

import (
	"net/http"
)

// viewerHTML is the embedded Leaflet map viewer. It lists processed
// layers, places their PNG overlays by WGS84 bounds and applies the
// stored display state.
const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Strata - Layer Viewer</title>
    <link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        html, body, #map { height: 100%; }
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; }
        #panel {
            position: absolute;
            top: 10px;
            right: 10px;
            z-index: 1000;
            background: #ffffff;
            border-radius: 8px;
            box-shadow: 0 1px 3px rgba(0,0,0,0.25);
            padding: 0.75rem 1rem;
            max-width: 320px;
            max-height: 70vh;
            overflow-y: auto;
            font-size: 0.875rem;
        }
        #panel h1 { font-size: 1rem; color: #2563eb; margin-bottom: 0.5rem; }
        .layer-row { display: flex; align-items: center; gap: 0.5rem; padding: 0.25rem 0; }
        .layer-row label { flex: 1; overflow: hidden; text-overflow: ellipsis; white-space: nowrap; }
        .layer-row input[type="range"] { width: 70px; }
        .layer-error { color: #dc2626; }
        .layer-pending { color: #64748b; }
        .empty { color: #64748b; font-style: italic; }
    </style>
</head>
<body>
<div id="map"></div>
<div id="panel">
    <h1>Strata Layers</h1>
    <div id="layers"><span class="empty">Loading&hellip;</span></div>
</div>
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
<script>
    const map = L.map('map').setView([36.19, 44.01], 12);
    L.tileLayer('https://tile.openstreetmap.org/{z}/{x}/{y}.png', {
        attribution: '&copy; OpenStreetMap contributors'
    }).addTo(map);

    const overlays = new Map();

    function overlayFor(layer, state) {
        const b = layer.bounds;
        const bounds = [[b.min_lat, b.min_lng], [b.max_lat, b.max_lng]];
        const url = '/api/v1/layers/' + layer.id + '/files/' + layer.artifacts.overlay;
        return L.imageOverlay(url, bounds, {
            opacity: state.opacity,
            zIndex: state.z_index
        });
    }

    function renderRow(container, layer, state) {
        const row = document.createElement('div');
        row.className = 'layer-row';

        if (layer.status !== 'processed') {
            const cls = layer.status === 'error' ? 'layer-error' : 'layer-pending';
            row.innerHTML = '<label class="' + cls + '">' +
                layer.source_file_name + ' (' + layer.status + ')</label>';
            container.appendChild(row);
            return;
        }

        const check = document.createElement('input');
        check.type = 'checkbox';
        check.checked = state.visible;
        check.onchange = () => setVisibility(layer.id, { visible: check.checked });

        const label = document.createElement('label');
        label.textContent = layer.source_file_name;
        label.title = layer.id + (layer.approximate ? ' (approximate bounds)' : '');

        const slider = document.createElement('input');
        slider.type = 'range';
        slider.min = 0;
        slider.max = 100;
        slider.value = Math.round(state.opacity * 100);
        slider.onchange = () => setVisibility(layer.id, { opacity: slider.value / 100 });

        row.append(check, label, slider);
        container.appendChild(row);

        const overlay = overlayFor(layer, state);
        overlays.set(layer.id, overlay);
        if (state.visible) {
            overlay.addTo(map);
        }
    }

    async function setVisibility(id, update) {
        const resp = await fetch('/api/v1/layers/' + id + '/visibility', {
            method: 'POST',
            headers: { 'Content-Type': 'application/json' },
            body: JSON.stringify(update)
        });
        if (!resp.ok) return;
        const state = await resp.json();
        const overlay = overlays.get(id);
        if (!overlay) return;
        overlay.setOpacity(state.opacity);
        if (state.visible) {
            overlay.addTo(map);
        } else {
            overlay.remove();
        }
    }

    async function load() {
        const [layersResp, visResp] = await Promise.all([
            fetch('/api/v1/layers'),
            fetch('/api/v1/layers/visibility')
        ]);
        const layers = (await layersResp.json()).layers || [];
        const vis = (await visResp.json()).layers || {};

        const container = document.getElementById('layers');
        container.innerHTML = '';
        if (layers.length === 0) {
            container.innerHTML = '<span class="empty">No layers uploaded yet</span>';
            return;
        }

        const fallback = { visible: true, opacity: 1.0, z_index: 1000 };
        let fitted = false;
        for (const layer of layers) {
            const state = vis[layer.id] || fallback;
            renderRow(container, layer, state);
            if (!fitted && layer.status === 'processed' && state.visible) {
                const b = layer.bounds;
                map.fitBounds([[b.min_lat, b.min_lng], [b.max_lat, b.max_lng]]);
                fitted = true;
            }
        }
    }

    load();
</script>
</body>
</html>`

// handleViewer serves the embedded map viewer.
func (s *Server) handleViewer(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(viewerHTML))
}
