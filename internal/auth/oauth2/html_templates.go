package oauth2

// pageTemplate is the shared layout for the pages served by the callback listener.
// {{TITLE}}, {{HEADING}}, {{MESSAGE}} and {{ACCENT}} are replaced before serving;
// MESSAGE must already be HTML-escaped.
const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{TITLE}}</title>
    <style>
        * {
            box-sizing: border-box;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, Cantarell, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #f3f4f6;
            padding: 1rem;
        }
        .container {
            text-align: center;
            background: white;
            padding: 2.5rem;
            border-radius: 12px;
            border-top: 6px solid {{ACCENT}};
            box-shadow: 0 10px 25px rgba(0,0,0,0.1);
            max-width: 480px;
            width: 100%;
        }
        h1 {
            color: #1f2937;
            margin-bottom: 1rem;
            font-size: 1.5rem;
            font-weight: 600;
        }
        p {
            color: #6b7280;
            font-size: 1rem;
            line-height: 1.5;
            word-break: break-word;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{HEADING}}</h1>
        <p>{{MESSAGE}}</p>
    </div>
</body>
</html>`

const (
	accentSuccess = "#10b981"
	accentError   = "#ef4444"
	accentWaiting = "#6366f1"
)
