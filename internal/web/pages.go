package web

const faviconTag = `<link rel="icon" href="data:image/svg+xml,<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 100 100'><text y='.9em' font-size='90'>🎙️</text></svg>">`

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Talkback</title>
` + faviconTag + `
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; background: #1a1a2e; color: #eee; padding: 24px; }
  h1 { color: #e94560; font-size: 22px; margin-bottom: 20px; }
  .card { background: #16213e; border-radius: 12px; padding: 20px; margin-bottom: 16px; }
  .phase { font-size: 14px; color: #aaa; }
  .text { font-size: 18px; margin-top: 8px; min-height: 24px; }
  .btn { padding: 18px 28px; border: none; border-radius: 10px; background: #e94560; color: #fff; font-size: 18px; font-weight: bold; cursor: pointer; user-select: none; }
  .btn.rec { background: #2ecc71; }
  .btn.mode { background: #555; font-size: 14px; padding: 10px 16px; margin-left: 12px; }
  table { width: 100%; border-collapse: collapse; font-size: 13px; }
  td, th { padding: 6px; border-bottom: 1px solid #333; text-align: left; }
  .err { color: #e94560; }
</style>
</head>
<body>
<h1>🎙️ Talkback</h1>
<div class="card">
  <div class="phase">phase: <span id="phase">-</span> · sessions: <span id="sessions">0</span></div>
  <div class="text" id="last"></div>
  <div class="phase err" id="error"></div>
</div>
<div class="card">
  <button class="btn" id="talk">Hold to talk</button>
  <button class="btn mode" id="mode">Quit</button>
</div>
<div class="card">
  <table><thead><tr><th>time</th><th>phase</th><th>text</th><th>spoken</th></tr></thead><tbody id="history"></tbody></table>
</div>
<script>
const post = p => fetch(p, {method: 'POST'});
const talk = document.getElementById('talk');
const down = e => { e.preventDefault(); talk.classList.add('rec'); post('/api/press'); };
const up = e => { e.preventDefault(); if (!talk.classList.contains('rec')) return; talk.classList.remove('rec'); post('/api/release'); };
talk.addEventListener('pointerdown', down);
talk.addEventListener('pointerup', up);
talk.addEventListener('pointerleave', up);
document.getElementById('mode').onclick = () => { if (confirm('Shut down?')) post('/api/mode'); };

const esc = s => (s || '').replace(/[&<>"]/g, c => ({'&':'&amp;','<':'&lt;','>':'&gt;','"':'&quot;'}[c]));
async function refresh() {
  try {
    const st = await (await fetch('/api/status')).json();
    document.getElementById('phase').textContent = st.phase + (st.playing ? ' (playing)' : '');
    document.getElementById('sessions').textContent = st.sessions;
    document.getElementById('last').textContent = st.last_spoken || st.last_text || '';
    document.getElementById('error').textContent = st.last_error || '';
    const rows = await (await fetch('/api/history?limit=10')).json();
    document.getElementById('history').innerHTML = rows.map(r =>
      '<tr><td>' + new Date(r.started_at).toLocaleTimeString() + '</td><td>' + esc(r.phase) +
      '</td><td>' + esc(r.text) + '</td><td>' + esc(r.spoken || r.error) + '</td></tr>').join('');
  } catch (e) {}
}
refresh();
setInterval(refresh, 1000);
</script>
</body>
</html>
`
