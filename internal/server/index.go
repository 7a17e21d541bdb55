package server

// indexHTML is the built-in control page
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>ClipTalk</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.min.css">
    <style>
        #toast { position: fixed; bottom: 1rem; right: 1rem; max-width: 24rem; }
        #toast article { margin: 0.5rem 0; padding: 0.75rem 1rem; }
        .error { border-left: 4px solid #d93526; }
        .success { border-left: 4px solid #398712; }
        .bot { text-align: right; }
        #countdown { font-size: 4rem; text-align: center; }
    </style>
</head>
<body>
<main class="container">
    <h1>ClipTalk</h1>
    <p>State: <strong id="state">-</strong> <span id="elapsed"></span></p>
    <div id="countdown"></div>
    <div role="group">
        <button onclick="post('/api/init')">Camera</button>
        <button onclick="post('/api/start')">Record</button>
        <button onclick="post('/api/pause')">Pause</button>
        <button onclick="post('/api/resume')">Resume</button>
        <button onclick="post('/api/stop')">Stop</button>
        <button class="secondary" onclick="post('/api/cancel')">Cancel</button>
    </div>
    <div id="upload" hidden>
        <progress id="progress" value="0" max="100"></progress>
        <button class="outline secondary" onclick="post('/api/upload/cancel')">Cancel upload</button>
    </div>
    <h2>Conversation</h2>
    <div id="messages"></div>
</main>
<div id="toast"></div>
<script>
async function post(path) {
    const res = await fetch(path, { method: 'POST' });
    if (!res.ok) {
        const body = await res.json().catch(() => ({}));
        console.warn(path, body.error);
    }
}

function toast(n) {
    const el = document.createElement('article');
    el.className = n.severity;
    el.textContent = n.message;
    document.getElementById('toast').appendChild(el);
    setTimeout(() => el.remove(), n.duration_ms || 3000);
}

function renderStatus(st) {
    document.getElementById('state').textContent = st.session.state;
    document.getElementById('elapsed').textContent = st.session.state === 'RECORDING' ? st.elapsed : '';
    document.getElementById('countdown').textContent =
        st.session.state === 'COUNTING_DOWN' ? st.session.countdown : '';
    if (st.upload) renderUpload(st.upload);
}

function renderUpload(up) {
    document.getElementById('upload').hidden = up.state !== 'UPLOADING';
    document.getElementById('progress').value = up.progress;
}

function renderMessage(m) {
    const el = document.createElement('article');
    el.className = m.sender;
    if (m.kind === 'video') {
        const v = document.createElement('video');
        v.controls = true;
        v.src = m.ref;
        el.appendChild(v);
    } else if (m.kind === 'media') {
        const a = document.createElement('a');
        a.href = '/api/media/' + m.id;
        a.textContent = m.content_type;
        el.appendChild(a);
    } else {
        el.textContent = m.text;
    }
    document.getElementById('messages').appendChild(el);
}

async function load() {
    const res = await fetch('/api/transcript');
    const body = await res.json();
    body.messages.forEach(renderMessage);
}

function connect() {
    const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/api/events');
    ws.onmessage = (ev) => {
        const u = JSON.parse(ev.data);
        switch (u.kind) {
            case 'status': renderStatus(u.status); break;
            case 'progress': renderUpload(u.upload); break;
            case 'message': renderMessage(u.message); break;
            case 'notification': toast(u.notification); break;
        }
    };
    ws.onclose = () => setTimeout(connect, 2000);
}

load().then(connect);
</script>
</body>
</html>`
