package monitor

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>IUV Extractor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #ddd; margin: 0; padding: 16px; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; }
        img { width: 100%; background: #000; }
        table { border-collapse: collapse; width: 100%; font-size: 13px; }
        td, th { padding: 4px 6px; border-bottom: 1px solid #333; text-align: left; }
        .badge { padding: 2px 8px; border-radius: 8px; background: #355; }
    </style>
</head>
<body>
    <h1>IUV Extractor <span class="badge" id="state">connecting</span></h1>
    <div class="grid">
        <div><img src="/stream" alt="latest mosaic"></div>
        <div>
            <h2>Counters</h2>
            <table id="counters"></table>
            <h2>Recent outputs</h2>
            <table id="history"><tr><th>frame</th><th>instances</th><th>file</th></tr></table>
        </div>
    </div>
    <script>
        const es = new EventSource('/api/status/stream');
        es.onmessage = (ev) => {
            const s = JSON.parse(ev.data);
            document.getElementById('state').textContent = s.run.running ? 'running' : 'finished';
            const counters = document.getElementById('counters');
            counters.innerHTML = '';
            for (const [k, v] of Object.entries(s.counters)) {
                counters.insertAdjacentHTML('beforeend', '<tr><td>' + k + '</td><td>' + v + '</td></tr>');
            }
            const history = document.getElementById('history');
            history.innerHTML = '<tr><th>frame</th><th>instances</th><th>file</th></tr>';
            for (const r of s.output_history) {
                history.insertAdjacentHTML('beforeend',
                    '<tr><td>' + r.frame_index + '</td><td>' + r.composited + '</td><td>' + (r.output_path || '') + '</td></tr>');
            }
        };
        es.onerror = () => { document.getElementById('state').textContent = 'disconnected'; };
    </script>
</body>
</html>
`
